package ports

import "go.trai.ch/keel/internal/core/domain"

// Hasher defines the interface for computing content hashes.
//
//go:generate go run go.uber.org/mock/mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type Hasher interface {
	// ComputeDirHash hashes every file below dir, skipping version control and build output directories.
	ComputeDirHash(dir string) (string, error)

	// ComputeUnitFingerprint hashes a unit's identity, its sources and the fingerprints of its dependencies.
	ComputeUnitFingerprint(unit *domain.CompilationUnit, depFingerprints []string, salt string) (string, error)
}
