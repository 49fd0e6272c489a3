package ports

import "go.trai.ch/keel/internal/core/domain"

// ManifestLoader defines the interface for reading manifests and discovering workspaces.
// Registry dependencies that do not name a registry are bound to the given default registry.
//
//go:generate go run go.uber.org/mock/mockgen -source=manifest_loader.go -destination=mocks/mock_manifest_loader.go -package=mocks
type ManifestLoader interface {
	// LoadManifest parses the manifest at path. Parse failures are reported as *domain.ManifestError.
	LoadManifest(path string, registry domain.SourceID) (*domain.Manifest, error)

	// LoadWorkspace finds the manifest governing cwd, following it up to an enclosing
	// workspace root, and loads every member package.
	LoadWorkspace(cwd string, registry domain.SourceID) (*domain.Workspace, error)
}
