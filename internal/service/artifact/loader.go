package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"CoinPulse/internal/domain/models"
	domrepo "CoinPulse/internal/domain/repository"
	"CoinPulse/internal/services/ml"
	"CoinPulse/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Downloader fetches artifact bytes from the training service.
type Downloader interface {
	DownloadArtifact(ctx context.Context, modelID string) ([]byte, error)
}

// Loader resolves an active model to its classifier, recovering the artifact from the
// training service when the local file is gone.
type Loader struct {
	cache      *Cache
	downloader Downloader
	active     domrepo.ActiveModelRepository
	storageDir string
	timeout    time.Duration
	logger     *logger.Logger

	group singleflight.Group
	mu    sync.RWMutex
	paths map[int64]string // recovered paths not yet visible in the caller's snapshot
}

func NewLoader(cache *Cache, d Downloader, active domrepo.ActiveModelRepository, storageDir string, timeout time.Duration, lgr *logger.Logger) *Loader {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Loader{
		cache:      cache,
		downloader: d,
		active:     active,
		storageDir: storageDir,
		timeout:    timeout,
		logger:     lgr,
		paths:      make(map[int64]string),
	}
}

// LocalPath is where an imported model's artifact lives on the prediction side.
func (l *Loader) LocalPath(modelID string) string {
	return filepath.Join(l.storageDir, fmt.Sprintf("active_%s.bin", modelID))
}

// Load returns the classifier and artifact header for a. On a missing file it recovers
// once; a second miss is an ArtifactMissingError.
func (l *Loader) Load(ctx context.Context, a *models.ActiveModel) (ml.Classifier, *ml.Artifact, error) {
	path := l.pathFor(a)
	art, clf, err := l.cache.Get(path)
	if err == nil {
		return clf, art, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load artifact %s: %w", path, err)
	}

	l.logger.Warn("artifact missing, recovering",
		logger.Int64("active_model_id", a.ID),
		logger.String("model_id", a.ModelID),
		logger.String("path", path),
	)
	newPath, rerr := l.recover(ctx, a, path)
	if rerr != nil {
		return nil, nil, &models.ArtifactMissingError{ModelID: a.ModelID, Path: path, Err: rerr}
	}
	art, clf, err = l.cache.Get(newPath)
	if err != nil {
		return nil, nil, &models.ArtifactMissingError{ModelID: a.ModelID, Path: newPath, Err: err}
	}
	return clf, art, nil
}

func (l *Loader) pathFor(a *models.ActiveModel) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.paths[a.ID]; ok {
		return p
	}
	return a.LocalModelPath
}

// Sync drops recovered-path overrides that a fresh snapshot already carries, along with
// those of models no longer in it.
func (l *Loader) Sync(active []*models.ActiveModel) {
	current := make(map[int64]string, len(active))
	for _, a := range active {
		current[a.ID] = a.LocalModelPath
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range l.paths {
		if cur, ok := current[id]; !ok || cur == p {
			delete(l.paths, id)
		}
	}
}

// recover downloads, rewrites local_model_path and purges both cache keys. Concurrent
// recoveries of the same active model share one download.
func (l *Loader) recover(ctx context.Context, a *models.ActiveModel, oldPath string) (string, error) {
	v, err, _ := l.group.Do(fmt.Sprint(a.ID), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		path, err := l.Fetch(ctx, a.ModelID)
		if err != nil {
			return "", err
		}
		if err := l.active.UpdateLocalPath(ctx, a.ID, path); err != nil {
			return "", fmt.Errorf("update local path: %w", err)
		}
		l.cache.Purge(oldPath, path)

		l.mu.Lock()
		l.paths[a.ID] = path
		l.mu.Unlock()
		l.logger.Info("artifact recovered",
			logger.Int64("active_model_id", a.ID),
			logger.String("model_id", a.ModelID),
			logger.String("path", path),
		)
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Fetch downloads a model's artifact, checks that it decodes and writes it atomically
// to LocalPath.
func (l *Loader) Fetch(ctx context.Context, modelID string) (string, error) {
	data, err := l.downloader.DownloadArtifact(ctx, modelID)
	if err != nil {
		return "", fmt.Errorf("download artifact %s: %w", modelID, err)
	}
	art, err := ml.DecodeArtifact(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if art.ModelID != "" && art.ModelID != modelID {
		return "", fmt.Errorf("downloaded artifact belongs to model %s, want %s", art.ModelID, modelID)
	}
	path := l.LocalPath(modelID)
	if err := ml.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	l.cache.Purge(path)
	return path, nil
}

// CachedArtifacts is the number of decoded artifacts held in memory.
func (l *Loader) CachedArtifacts() int { return l.cache.Len() }
