package ports

import (
	"context"

	"go.trai.ch/keel/internal/core/domain"
)

// LockStore reads and writes the lock document and serializes runs against one workspace.
//
//go:generate go run go.uber.org/mock/mockgen -source=lock_store.go -destination=mocks/mock_lock_store.go -package=mocks
type LockStore interface {
	// Read decodes the lock document at path. A missing document yields nil, nil.
	Read(path string) (*domain.Lockfile, error)

	// Write encodes lock to path. It reports whether the file content changed.
	Write(path string, lock *domain.Lockfile) (bool, error)

	// Acquire takes the advisory lock of the workspace, waiting until ctx is done.
	Acquire(ctx context.Context, workspaceRoot string) (release func() error, err error)
}
