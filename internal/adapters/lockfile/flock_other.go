//go:build !unix

package lockfile

import (
	"errors"
	"io/fs"
	"os"

	"go.trai.ch/keel/internal/core/domain"
)

// tryLock creates path exclusively. Without flock a crashed run leaves the file
// behind and it has to be removed by hand.
func tryLock(path, owner string) (func() error, bool, error) {
	//nolint:gosec // path is derived from the workspace root
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, domain.FilePerm)
	if errors.Is(err, fs.ErrExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	_, _ = f.WriteString(owner)
	if err := f.Close(); err != nil {
		return nil, false, err
	}
	return func() error { return os.Remove(path) }, true, nil
}
