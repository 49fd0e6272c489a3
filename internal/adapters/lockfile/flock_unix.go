//go:build unix

package lockfile

import (
	"errors"
	"os"

	"go.trai.ch/keel/internal/core/domain"
	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking exclusive flock on path. The kernel drops the lock
// if the process dies, so a stale file never blocks later runs.
func tryLock(path, owner string) (func() error, bool, error) {
	//nolint:gosec // path is derived from the workspace root
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, domain.FilePerm)
	if err != nil {
		return nil, false, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(owner), 0)
	}

	release := func() error {
		_ = f.Truncate(0)
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}
	return release, true, nil
}
