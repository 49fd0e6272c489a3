package source

import (
	"context"
	"path/filepath"
	"sync"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// PathSource serves the single package found in a local directory.
// The directory on disk is authoritative: its one version is whatever the manifest says.
type PathSource struct {
	id       domain.SourceID
	registry domain.SourceID
	loader   ports.ManifestLoader
	hasher   ports.Hasher

	once     sync.Once
	pkg      *domain.Package
	checksum string
	err      error
}

// NewPathSource creates a source for the directory named by id.
func NewPathSource(
	id domain.SourceID,
	registry domain.SourceID,
	loader ports.ManifestLoader,
	hasher ports.Hasher,
) *PathSource {
	return &PathSource{
		id:       id.Canonical(),
		registry: registry,
		loader:   loader,
		hasher:   hasher,
	}
}

// ID returns the canonical id of the directory.
func (s *PathSource) ID() domain.SourceID {
	return s.id
}

// ListVersions returns the package in the directory if it is called name.
func (s *PathSource) ListVersions(_ context.Context, name domain.PackageName) ([]domain.PackageID, error) {
	pkg, _, err := s.load()
	if err != nil {
		return nil, err
	}
	if pkg.Name() != name {
		return nil, nil
	}
	return []domain.PackageID{pkg.ID()}, nil
}

// FetchSummary returns the summary of the package in the directory.
func (s *PathSource) FetchSummary(_ context.Context, id domain.PackageID) (*domain.Summary, error) {
	pkg, checksum, err := s.load()
	if err != nil {
		return nil, err
	}
	if pkg.ID() != id {
		return nil, zerr.With(domain.ErrPackageNotFound, "package", id.String())
	}
	return domain.SummaryFromPackage(pkg, checksum), nil
}

// Materialize returns the package in place; nothing is copied.
func (s *PathSource) Materialize(_ context.Context, id domain.PackageID) (*domain.Package, error) {
	pkg, _, err := s.load()
	if err != nil {
		return nil, err
	}
	if pkg.ID() != id {
		return nil, zerr.With(domain.ErrPackageNotFound, "package", id.String())
	}
	return pkg, nil
}

func (s *PathSource) load() (*domain.Package, string, error) {
	s.once.Do(func() {
		path := filepath.Join(s.id.Location, domain.ManifestFileName)
		m, err := s.loader.LoadManifest(path, s.registry)
		if err != nil {
			s.err = zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "source", s.id.String())
			return
		}
		if m.IsVirtual() {
			s.err = zerr.With(zerr.With(domain.ErrPackageNotFound, "source", s.id.String()),
				"reason", "manifest declares no package")
			return
		}

		checksum, err := s.hasher.ComputeDirHash(s.id.Location)
		if err != nil {
			s.err = zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "source", s.id.String())
			return
		}

		id := domain.NewPackageID(m.Package.Name, m.Package.Version, s.id)
		s.pkg = domain.NewPackage(id, m, path)
		s.checksum = checksum
	})
	return s.pkg, s.checksum, s.err
}
