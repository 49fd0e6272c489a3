package lockfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

const pollInterval = 50 * time.Millisecond

// Store implements ports.LockStore on the local filesystem.
type Store struct{}

// NewStore creates a Store.
func NewStore() *Store {
	return &Store{}
}

// Read decodes the lock document at path. A missing document yields nil, nil.
func (s *Store) Read(path string) (*domain.Lockfile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrLockParseFailed.Error()), "path", path)
	}
	lock, err := Decode(data)
	if err != nil {
		return nil, zerr.With(err, "path", path)
	}
	return lock, nil
}

// Write encodes lock to path unless the file already holds the same content.
func (s *Store) Write(path string, lock *domain.Lockfile) (bool, error) {
	data, err := Encode(lock)
	if err != nil {
		return false, zerr.With(err, "path", path)
	}
	if existing, readErr := os.ReadFile(path); readErr == nil && bytes.Equal(existing, data) {
		return false, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".keel.lock-*")
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, domain.ErrLockWriteFailed.Error()), "path", path)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, zerr.With(zerr.Wrap(err, domain.ErrLockWriteFailed.Error()), "path", path)
	}
	if err := tmp.Close(); err != nil {
		return false, zerr.With(zerr.Wrap(err, domain.ErrLockWriteFailed.Error()), "path", path)
	}
	if err := os.Chmod(tmp.Name(), domain.FilePerm); err != nil {
		return false, zerr.With(zerr.Wrap(err, domain.ErrLockWriteFailed.Error()), "path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, zerr.With(zerr.Wrap(err, domain.ErrLockWriteFailed.Error()), "path", path)
	}
	return true, nil
}

// Acquire takes the advisory lock of the workspace, polling until ctx is done.
// The lock file records the run id found in ctx, or a fresh one.
func (s *Store) Acquire(ctx context.Context, workspaceRoot string) (func() error, error) {
	path := domain.AdvisoryLockPath(workspaceRoot)
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrLockBusy.Error()), "path", path)
	}
	owner := ownerRecord(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		release, locked, err := tryLock(path, owner)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrLockBusy.Error()), "path", path)
		}
		if locked {
			return release, nil
		}

		select {
		case <-ctx.Done():
			err := zerr.With(domain.ErrLockBusy, "path", path)
			if holder := readOwner(path); holder != "" {
				err = zerr.With(err, "holder", holder)
			}
			return nil, err
		case <-ticker.C:
		}
	}
}
