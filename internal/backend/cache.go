package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Dryxio/auto-re-agent/internal/models"
)

// Cached memoizes Describe results: an in-memory LRU in front of a JSON
// file per address on disk. Descriptor extraction is the slowest call in
// the pipeline and its input (the vanilla binary) never changes, so cached
// entries have no expiry. Concurrent workers asking for the same address
// share one underlying call.
type Cached struct {
	inner Backend
	mem   *lru.Cache[string, *models.Reference]
	dir   string // empty disables the disk layer
	group singleflight.Group
}

// NewCached wraps a backend with the descriptor cache. size <= 0 falls back
// to a small default.
func NewCached(inner Backend, dir string, size int) (*Cached, error) {
	if size <= 0 {
		size = 128
	}
	mem, err := lru.New[string, *models.Reference](size)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cached{inner: inner, mem: mem, dir: dir}, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Capabilities(ctx context.Context) (Capabilities, error) {
	return c.inner.Capabilities(ctx)
}

func (c *Cached) Describe(ctx context.Context, addr string) (*models.Reference, error) {
	key := models.NormalizeAddress(addr)
	if ref, ok := c.mem.Get(key); ok {
		return ref, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if ref, ok := c.readDisk(key); ok {
			c.mem.Add(key, ref)
			return ref, nil
		}
		ref, err := c.inner.Describe(ctx, addr)
		if err != nil {
			return nil, err
		}
		c.writeDisk(key, ref)
		c.mem.Add(key, ref)
		return ref, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Reference), nil
}

func (c *Cached) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cached) readDisk(key string) (*models.Reference, bool) {
	if c.dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var ref models.Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		// Corrupt cache entry: drop it and refetch.
		_ = os.Remove(c.path(key))
		return nil, false
	}
	return &ref, true
}

// writeDisk persists via temp file + rename so a crashed write never leaves
// a half-written entry behind. Cache writes are best-effort; a failure only
// costs a refetch.
func (c *Cached) writeDisk(key string, ref *models.Reference) {
	if c.dir == "" {
		return
	}
	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		_ = os.Remove(tmpName)
	}
}
