package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/internal/services/ml"
)

func fittedArtifact(t *testing.T, modelID string) *ml.Artifact {
	t.Helper()
	c, err := ml.New(models.KindRandomForest, map[string]any{"n_estimators": float64(3)})
	if err != nil {
		t.Fatal(err)
	}
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	y := []int{0, 0, 0, 1, 1, 1}
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	a, err := ml.NewArtifact(modelID, []string{"x"}, c)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

type countingReader struct{ n atomic.Int32 }

func (r *countingReader) read(path string) (*ml.Artifact, error) {
	r.n.Add(1)
	return ml.ReadArtifact(path)
}

func TestCacheHitsAndMtimeInvalidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.bin")
	if err := ml.WriteArtifact(path, fittedArtifact(t, "m")); err != nil {
		t.Fatal(err)
	}
	c := NewCache(2)
	r := &countingReader{}
	c.read = r.read

	for i := 0; i < 3; i++ {
		if _, _, err := c.Get(path); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if got := r.n.Load(); got != 1 {
		t.Fatalf("reads = %d, want 1", got)
	}

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Get(path); err != nil {
		t.Fatal(err)
	}
	if got := r.n.Load(); got != 2 {
		t.Fatalf("reads after touch = %d, want 2", got)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 3)
	for i, id := range []string{"a", "b", "c"} {
		paths[i] = filepath.Join(dir, id+".bin")
		if err := ml.WriteArtifact(paths[i], fittedArtifact(t, id)); err != nil {
			t.Fatal(err)
		}
	}
	c := NewCache(2)
	clock := time.Unix(0, 0)
	c.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	c.Get(paths[0])
	c.Get(paths[1])
	c.Get(paths[0])
	c.Get(paths[2])
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	c.mu.Lock()
	_, hasA := c.data[paths[0]]
	_, hasB := c.data[paths[1]]
	c.mu.Unlock()
	if !hasA || hasB {
		t.Fatalf("expected b evicted, a kept (a=%v b=%v)", hasA, hasB)
	}
}

type fakeDownloader struct {
	data  []byte
	err   error
	calls atomic.Int32
}

func (f *fakeDownloader) DownloadArtifact(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type fakeActiveRepo struct {
	paths map[int64]string
}

func (f *fakeActiveRepo) Create(context.Context, *models.ActiveModel) error { return nil }
func (f *fakeActiveRepo) Get(context.Context, int64) (*models.ActiveModel, error) {
	return nil, errors.New("unused")
}
func (f *fakeActiveRepo) List(context.Context, bool) ([]*models.ActiveModel, error) { return nil, nil }
func (f *fakeActiveRepo) SetActive(context.Context, int64, bool) error { return nil }
func (f *fakeActiveRepo) UpdateConfig(context.Context, *models.ActiveModel) error { return nil }
func (f *fakeActiveRepo) Delete(context.Context, int64) error { return nil }
func (f *fakeActiveRepo) UpdateLocalPath(_ context.Context, id int64, path string) error {
	f.paths[id] = path
	return nil
}

func TestLoaderRecoversMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	data, err := ml.MarshalArtifact(fittedArtifact(t, "m-7"))
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDownloader{data: data}
	repo := &fakeActiveRepo{paths: map[int64]string{}}
	l := NewLoader(NewCache(4), d, repo, dir, time.Second, nil)

	a := &models.ActiveModel{ID: 3, ModelID: "m-7", LocalModelPath: filepath.Join(dir, "gone.bin")}
	clf, art, err := l.Load(context.Background(), a)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if clf == nil || art.ModelID != "m-7" {
		t.Fatalf("unexpected artifact %+v", art)
	}
	want := filepath.Join(dir, "active_m-7.bin")
	if repo.paths[3] != want {
		t.Fatalf("local path = %q, want %q", repo.paths[3], want)
	}

	// the stale snapshot path is overridden, so no second download
	if _, _, err := l.Load(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if d.calls.Load() != 1 {
		t.Fatalf("downloads = %d, want 1", d.calls.Load())
	}
}

func TestLoaderSecondMissIsArtifactMissing(t *testing.T) {
	d := &fakeDownloader{err: models.NewNotFoundError("model", "m-9")}
	l := NewLoader(NewCache(4), d, &fakeActiveRepo{paths: map[int64]string{}}, t.TempDir(), time.Second, nil)

	_, _, err := l.Load(context.Background(), &models.ActiveModel{ID: 1, ModelID: "m-9", LocalModelPath: "/nonexistent/m-9.bin"})
	if !errors.Is(err, models.ErrArtifactMissing) {
		t.Fatalf("err = %v, want artifact missing", err)
	}
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped not found", err)
	}
}
