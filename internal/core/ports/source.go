// Package ports defines the core interfaces for the application.
package ports

import (
	"context"

	"go.trai.ch/keel/internal/core/domain"
)

// Source is a place packages come from: a registry index, a git repository or a local directory.
//
//go:generate go run go.uber.org/mock/mockgen -source=source.go -destination=mocks/mock_source.go -package=mocks
type Source interface {
	// ID returns the canonical id of the source.
	ID() domain.SourceID

	// ListVersions returns the ids available for name. An empty result is not an error.
	ListVersions(ctx context.Context, name domain.PackageName) ([]domain.PackageID, error)

	// FetchSummary returns the dependency metadata of id, or domain.ErrPackageNotFound.
	FetchSummary(ctx context.Context, id domain.PackageID) (*domain.Summary, error)

	// Materialize makes the full package available on disk, or fails with domain.ErrFetchFailed.
	Materialize(ctx context.Context, id domain.PackageID) (*domain.Package, error)
}

// SourceProvider maps a source id to the Source serving it.
type SourceProvider interface {
	// Source returns the source for id. Ids with the same canonical form share one Source.
	Source(id domain.SourceID) (Source, error)
}

// SourceConfig holds the process-wide settings a provider is built from.
type SourceConfig struct {
	// CacheDir is where registry archives and git checkouts are stored.
	CacheDir string
	// Registry is the registry bound to dependencies that do not name one.
	Registry domain.SourceID
}

// SourceFactory builds the provider used for one run.
type SourceFactory interface {
	NewProvider(cfg SourceConfig) (SourceProvider, error)
}
