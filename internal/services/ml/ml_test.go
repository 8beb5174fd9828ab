package ml

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"CoinPulse/internal/domain/models"
)

// thresholdData labels x > 100 over x = 0..199 with a noise column.
func thresholdData() ([][]float64, []int) {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, 200)
	y := make([]int, 200)
	for i := range X {
		X[i] = []float64{float64(i), rng.Float64()}
		if i > 100 {
			y[i] = 1
		}
	}
	return X, y
}

func TestClassifiersLearnThreshold(t *testing.T) {
	for _, kind := range []models.ModelKind{models.KindRandomForest, models.KindGradientBoosting} {
		t.Run(string(kind), func(t *testing.T) {
			X, y := thresholdData()
			c, err := New(kind, map[string]any{"n_estimators": float64(30), "max_features": "all"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := c.Fit(X, y); err != nil {
				t.Fatalf("Fit: %v", err)
			}
			m := Evaluate(y, c.PredictProba(X))
			if m.Accuracy < 0.95 {
				t.Fatalf("train accuracy = %.3f, want >= 0.95", m.Accuracy)
			}
			got := c.Predict([][]float64{{10, 0.5}, {190, 0.5}})
			if got[0] != 0 || got[1] != 1 {
				t.Fatalf("Predict = %v, want [0 1]", got)
			}
			for _, p := range c.PredictProba([][]float64{{50, 0.1}}) {
				if math.Abs(p[0]+p[1]-1) > 1e-9 {
					t.Fatalf("probabilities do not sum to 1: %v", p)
				}
			}
		})
	}
}

func TestFitIsDeterministic(t *testing.T) {
	X, y := thresholdData()
	params := map[string]any{"n_estimators": float64(10), "random_state": float64(3)}
	a, _ := New(models.KindRandomForest, params)
	b, _ := New(models.KindRandomForest, params)
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	pa, pb := a.PredictProba(X), b.PredictProba(X)
	for i := range pa {
		if pa[i] != pb[i] {
			t.Fatalf("row %d: %v != %v", i, pa[i], pb[i])
		}
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name   string
		kind   models.ModelKind
		params map[string]any
	}{
		{"unknown kind", "svm", nil},
		{"fractional estimators", models.KindRandomForest, map[string]any{"n_estimators": 2.5}},
		{"string depth", models.KindRandomForest, map[string]any{"max_depth": "deep"}},
		{"zero learning rate", models.KindGradientBoosting, map[string]any{"learning_rate": 0.0}},
		{"subsample above one", models.KindGradientBoosting, map[string]any{"subsample": 1.5}},
		{"bad max_features", models.KindRandomForest, map[string]any{"max_features": "half"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.kind, tc.params)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	c, _ := New(models.KindRandomForest, nil)
	if err := c.Fit(nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := c.Fit([][]float64{{1}, {2}}, []int{0, 2}); err == nil {
		t.Fatal("expected error for non-binary label")
	}
	if err := c.Fit([][]float64{{1}, {2, 3}}, []int{0, 1}); err == nil {
		t.Fatal("expected error for ragged rows")
	}
}

func TestShouldOversample(t *testing.T) {
	cases := []struct {
		y    []int
		want bool
	}{
		{[]int{0, 0, 0, 0}, false},
		{[]int{1, 0, 0, 0}, true},
		{[]int{1, 1, 0, 0, 0}, false},
		{[]int{1, 1, 1, 1}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := ShouldOversample(tc.y); got != tc.want {
			t.Errorf("ShouldOversample(%v) = %v, want %v", tc.y, got, tc.want)
		}
	}
}

func TestSMOTEBalancesWithinPositiveHull(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}, {10}, {12}}
	y := []int{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}
	outX, outY := SMOTE(X, y, rand.New(rand.NewSource(1)))
	if len(outX) != 16 || len(outY) != 16 {
		t.Fatalf("len = %d/%d, want 16", len(outX), len(outY))
	}
	pos := 0
	for _, v := range outY {
		pos += v
	}
	if pos != 8 {
		t.Fatalf("positives = %d, want 8", pos)
	}
	for _, row := range outX[10:] {
		if row[0] < 10 || row[0] > 12 {
			t.Fatalf("synthetic row %v outside [10,12]", row)
		}
	}
	if len(X) != 10 {
		t.Fatal("input modified")
	}
}

func TestSMOTESinglePositiveUnchanged(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}}
	y := []int{0, 0, 1}
	outX, _ := SMOTE(X, y, rand.New(rand.NewSource(1)))
	if len(outX) != 3 {
		t.Fatalf("len = %d, want 3", len(outX))
	}
}

func TestStratifiedSplit(t *testing.T) {
	y := make([]int, 100)
	for i := 0; i < 20; i++ {
		y[i*5] = 1
	}
	f, err := StratifiedSplit(y, DefaultTestFraction, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Test) != 20 || len(f.Train) != 80 {
		t.Fatalf("sizes = %d/%d, want 80/20", len(f.Train), len(f.Test))
	}
	seen := make(map[int]bool)
	testPos := 0
	for _, i := range f.Test {
		seen[i] = true
		testPos += y[i]
	}
	for _, i := range f.Train {
		if seen[i] {
			t.Fatalf("row %d in both folds", i)
		}
	}
	if testPos != 4 {
		t.Fatalf("test positives = %d, want 4", testPos)
	}
}

func TestTimeSeriesSplit(t *testing.T) {
	folds, err := TimeSeriesSplit(12, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(folds) != 5 {
		t.Fatalf("folds = %d", len(folds))
	}
	for i, f := range folds {
		if len(f.Test) != 2 {
			t.Fatalf("fold %d test size %d", i, len(f.Test))
		}
		if f.Train[len(f.Train)-1] >= f.Test[0] {
			t.Fatalf("fold %d trains on rows after its test block", i)
		}
	}
	if folds[4].Test[1] != 11 || len(folds[0].Train) != 2 {
		t.Fatalf("unexpected fold bounds: %+v", folds)
	}
	if _, err := TimeSeriesSplit(12, 1); err == nil {
		t.Fatal("expected error for k=1")
	}
	if _, err := TimeSeriesSplit(3, 5); err == nil {
		t.Fatal("expected error for too few rows")
	}
}

func TestEvaluate(t *testing.T) {
	y := []int{1, 1, 0, 0, 1}
	proba := [][2]float64{{0.1, 0.9}, {0.6, 0.4}, {0.8, 0.2}, {0.3, 0.7}, {0.2, 0.8}}
	m := Evaluate(y, proba)
	want := models.Confusion{TP: 2, FP: 1, TN: 1, FN: 1}
	if m.Confusion != want {
		t.Fatalf("confusion = %+v, want %+v", m.Confusion, want)
	}
	if m.Accuracy != 0.6 {
		t.Errorf("accuracy = %v", m.Accuracy)
	}
	if math.Abs(m.Precision-2.0/3) > 1e-12 || math.Abs(m.Recall-2.0/3) > 1e-12 {
		t.Errorf("precision/recall = %v/%v", m.Precision, m.Recall)
	}
	if m.PositiveRate != 0.6 {
		t.Errorf("positive rate = %v", m.PositiveRate)
	}
	if m.ClassBalance != (models.ClassBalance{Positive: 3, Negative: 2}) {
		t.Errorf("class balance = %+v", m.ClassBalance)
	}
	// positives score 0.9, 0.4, 0.8; negatives 0.2, 0.7: 5 of 6 pairs ordered
	if math.Abs(m.ROCAUC-5.0/6) > 1e-12 {
		t.Errorf("roc auc = %v, want %v", m.ROCAUC, 5.0/6)
	}
}

func TestROCAUCEdges(t *testing.T) {
	if got := rocAUC([]int{0, 1}, []float64{0.5, 0.5}); got != 0.5 {
		t.Errorf("tied scores auc = %v, want 0.5", got)
	}
	if got := rocAUC([]int{1, 1}, []float64{0.2, 0.9}); got != 0 {
		t.Errorf("single class auc = %v, want 0", got)
	}
	m := Evaluate([]int{0, 0}, [][2]float64{{1, 0}, {1, 0}})
	if m.Precision != 0 || m.F1 != 0 || m.Accuracy != 1 {
		t.Errorf("all-negative metrics = %+v", m)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	X, y := thresholdData()
	c, _ := New(models.KindGradientBoosting, map[string]any{"n_estimators": float64(5)})
	if err := c.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	a, err := NewArtifact("m-1", []string{"x", "noise"}, c)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "models", ArtifactPath("", "m-1"))
	if err := WriteArtifact(path, a); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if got.ModelID != "m-1" || got.Kind != models.KindGradientBoosting || len(got.Features) != 2 {
		t.Fatalf("artifact header = %+v", got)
	}
	restored, err := got.Classifier()
	if err != nil {
		t.Fatal(err)
	}
	want, have := c.PredictProba(X), restored.PredictProba(X)
	for i := range want {
		if want[i] != have[i] {
			t.Fatalf("row %d: %v != %v", i, have[i], want[i])
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
	if err := RemoveArtifact(path); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadArtifact(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
	if err := RemoveArtifact(path); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}
