package ports

import "go.trai.ch/keel/internal/core/domain"

// BuildInfoStore defines the interface for storing and retrieving unit fingerprints.
// Records live under the workspace root they belong to.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type BuildInfoStore interface {
	// Get retrieves the build info for a given unit id.
	// Returns nil, nil if not found.
	Get(root, unitID string) (*domain.BuildInfo, error)

	// Put stores the build info.
	Put(root string, info domain.BuildInfo) error
}
