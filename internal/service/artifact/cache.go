package artifact

import (
	"os"
	"sync"
	"time"

	"CoinPulse/internal/services/ml"
)

type cacheItem struct {
	art    *ml.Artifact
	clf    ml.Classifier
	mtime  time.Time
	size   int64
	access time.Time
}

// Cache keeps decoded artifacts by path, evicting the least recently used path when full.
// An entry is reloaded when the file's mtime or size changes.
type Cache struct {
	mu       sync.Mutex
	data     map[string]*cacheItem
	capacity int
	read     func(path string) (*ml.Artifact, error)
	now      func() time.Time
}

func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 16
	}
	return &Cache{
		data:     make(map[string]*cacheItem),
		capacity: capacity,
		read:     ml.ReadArtifact,
		now:      time.Now,
	}
}

// Get returns the artifact at path and its classifier. A missing file returns an
// error matching os.ErrNotExist.
func (c *Cache) Get(path string) (*ml.Artifact, ml.Classifier, error) {
	fi, err := os.Stat(path)
	if err != nil {
		c.Purge(path)
		return nil, nil, err
	}

	c.mu.Lock()
	if it, ok := c.data[path]; ok && it.mtime.Equal(fi.ModTime()) && it.size == fi.Size() {
		it.access = c.now()
		c.mu.Unlock()
		return it.art, it.clf, nil
	}
	c.mu.Unlock()

	art, err := c.read(path)
	if err != nil {
		return nil, nil, err
	}
	clf, err := art.Classifier()
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[path]; !exists && len(c.data) >= c.capacity {
		c.evictLRU()
	}
	c.data[path] = &cacheItem{art: art, clf: clf, mtime: fi.ModTime(), size: fi.Size(), access: c.now()}
	return art, clf, nil
}

// Purge drops path from the cache.
func (c *Cache) Purge(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		delete(c.data, p)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *Cache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, it := range c.data {
		if oldestKey == "" || it.access.Before(oldest) {
			oldestKey, oldest = key, it.access
		}
	}
	if oldestKey != "" {
		delete(c.data, oldestKey)
	}
}
