package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// RegistrySource serves versioned packages from a registry index.
// Yanked versions are not listed but remain fetchable by exact id.
type RegistrySource struct {
	id      domain.SourceID
	index   Index
	srcRoot string
	loader  ports.ManifestLoader
	logger  ports.Logger

	group singleflight.Group
	mu    sync.Mutex
	docs  map[domain.PackageName]*IndexDocument
}

// NewRegistrySource creates a source for the registry id backed by index.
// Extracted archives are kept under cacheRoot.
func NewRegistrySource(
	id domain.SourceID,
	index Index,
	cacheRoot string,
	loader ports.ManifestLoader,
	logger ports.Logger,
) *RegistrySource {
	id = id.Canonical()
	key := strconv.FormatUint(xxhash.Sum64String(id.Location), 16)
	return &RegistrySource{
		id:      id,
		index:   index,
		srcRoot: filepath.Join(domain.RegistryCachePath(cacheRoot), "src", key),
		loader:  loader,
		logger:  logger,
		docs:    make(map[domain.PackageName]*IndexDocument),
	}
}

// ID returns the canonical id of the registry.
func (s *RegistrySource) ID() domain.SourceID {
	return s.id
}

// ListVersions returns the published, non-yanked versions of name, highest first.
func (s *RegistrySource) ListVersions(ctx context.Context, name domain.PackageName) ([]domain.PackageID, error) {
	doc, err := s.document(ctx, name)
	if err != nil || doc == nil {
		return nil, err
	}

	ids := make([]domain.PackageID, 0, len(doc.Versions))
	for _, v := range doc.Versions {
		if v.Yanked {
			continue
		}
		version, err := domain.ParseVersion(v.Version)
		if err != nil {
			s.logger.Warn(fmt.Sprintf("skipping %s %q from %s: invalid version", name, v.Version, s.id))
			continue
		}
		ids = append(ids, domain.NewPackageID(name, version, s.id))
	}
	slices.SortFunc(ids, func(a, b domain.PackageID) int {
		return b.Version().Compare(a.Version())
	})
	return slices.CompactFunc(ids, func(a, b domain.PackageID) bool { return a == b }), nil
}

// FetchSummary returns the dependencies recorded in the index for id.
func (s *RegistrySource) FetchSummary(ctx context.Context, id domain.PackageID) (*domain.Summary, error) {
	entry, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	deps := make([]domain.DependencyRequirement, 0, len(entry.Dependencies))
	for _, d := range entry.Dependencies {
		dep, err := s.dependency(d)
		if err != nil {
			err = zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "package", id.String())
			return nil, zerr.With(err, "dependency", d.Name)
		}
		deps = append(deps, dep)
	}

	return &domain.Summary{ID: id, Dependencies: deps, Checksum: entry.Checksum}, nil
}

// Materialize downloads, verifies and extracts the archive of id unless it is already extracted.
func (s *RegistrySource) Materialize(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	entry, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(s.srcRoot, id.Name().String()+"-"+id.Version().String())
	manifestPath := filepath.Join(dest, domain.ManifestFileName)
	if _, statErr := os.Stat(manifestPath); statErr != nil {
		if err := s.extract(ctx, entry, dest); err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "package", id.String())
		}
	}

	m, err := s.loader.LoadManifest(manifestPath, s.id)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "package", id.String())
	}
	if m.Package.Name != id.Name() || m.Package.Version != id.Version() {
		err := zerr.With(domain.ErrFetchFailed, "package", id.String())
		return nil, zerr.With(err, "reason", "archive contains "+m.Package.Name.String()+" "+m.Package.Version.String())
	}
	return domain.NewPackage(id, m, manifestPath), nil
}

func (s *RegistrySource) extract(ctx context.Context, entry IndexVersion, dest string) error {
	rc, err := s.index.Download(ctx, entry)
	if err != nil {
		return err
	}
	data, err := readVerified(rc, entry.Checksum, maxArchiveSize)
	_ = rc.Close()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), domain.DirPerm); err != nil {
		return zerr.Wrap(err, "failed to create registry cache")
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return zerr.Wrap(err, "failed to create extraction directory")
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if err := extractArchive(bytes.NewReader(data), tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		// Another process may have extracted the same version concurrently.
		if _, statErr := os.Stat(filepath.Join(dest, domain.ManifestFileName)); statErr == nil {
			return nil
		}
		return zerr.Wrap(err, "failed to move extracted package into place")
	}
	return nil
}

func (s *RegistrySource) entry(ctx context.Context, id domain.PackageID) (IndexVersion, error) {
	doc, err := s.document(ctx, id.Name())
	if err != nil {
		return IndexVersion{}, err
	}
	if doc == nil {
		return IndexVersion{}, zerr.With(domain.ErrPackageNotFound, "package", id.String())
	}
	for _, v := range doc.Versions {
		version, err := domain.ParseVersion(v.Version)
		if err == nil && version == id.Version() {
			return v, nil
		}
	}
	return IndexVersion{}, zerr.With(domain.ErrPackageNotFound, "package", id.String())
}

func (s *RegistrySource) document(ctx context.Context, name domain.PackageName) (*IndexDocument, error) {
	s.mu.Lock()
	doc, ok := s.docs[name]
	s.mu.Unlock()
	if ok {
		return doc, nil
	}

	v, err, _ := s.group.Do(name.String(), func() (any, error) {
		doc, err := s.index.Document(ctx, name)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.docs[name] = doc
		s.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	doc, _ = v.(*IndexDocument)
	return doc, nil
}

func (s *RegistrySource) dependency(d IndexDependency) (domain.DependencyRequirement, error) {
	name, err := domain.NewPackageName(d.Name)
	if err != nil {
		return domain.DependencyRequirement{}, err
	}
	req, err := domain.ParseVersionReq(d.Req)
	if err != nil {
		return domain.DependencyRequirement{}, err
	}
	src := s.id
	if d.Registry != "" {
		src = domain.NewRegistrySource(d.Registry)
	}
	return domain.DependencyRequirement{
		Name:     name,
		Req:      req,
		Source:   src,
		Features: slices.Clone(d.Features),
	}, nil
}
