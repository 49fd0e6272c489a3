package source

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

var errCacheExpired = zerr.New("cache entry expired")

// fileCache stores raw responses on disk, one file per key, with a time to live.
// Several processes may share the directory: entries are written atomically.
type fileCache struct {
	dir string
	ttl time.Duration
}

func newFileCache(dir string, ttl time.Duration) (*fileCache, error) {
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return nil, err
	}
	return &fileCache{dir: dir, ttl: ttl}, nil
}

// get returns the entry for key. A stale entry is returned together with errCacheExpired
// so callers can fall back to it when the network is unavailable.
func (c *fileCache) get(key string) ([]byte, bool, error) {
	path := c.path(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return data, false, errCacheExpired
	}
	return data, true, nil
}

func (c *fileCache) set(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

func (c *fileCache) path(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(h[:]))
}
