package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// GitSource serves packages from a git repository at a branch, tag or revision.
// Package ids carry the commit in their source's Precise field, so the same
// locator and commit always yield the same content.
type GitSource struct {
	id       domain.SourceID
	registry domain.SourceID
	client   GitClient
	loader   ports.ManifestLoader

	dbDir        string
	checkoutRoot string

	mu         sync.Mutex
	synced     bool
	head       string
	workspaces map[string]*domain.Workspace
}

// NewGitSource creates a source for the repository named by id, caching clones under cacheRoot.
func NewGitSource(
	id domain.SourceID,
	registry domain.SourceID,
	cacheRoot string,
	client GitClient,
	loader ports.ManifestLoader,
) *GitSource {
	id = id.Canonical()
	key := strconv.FormatUint(xxhash.Sum64String(id.Location), 16)
	base := domain.GitCachePath(cacheRoot)
	return &GitSource{
		id:           id,
		registry:     registry,
		client:       client,
		loader:       loader,
		dbDir:        filepath.Join(base, "db", key),
		checkoutRoot: filepath.Join(base, "checkouts", key),
		workspaces:   make(map[string]*domain.Workspace),
	}
}

// ID returns the canonical id of the repository.
func (s *GitSource) ID() domain.SourceID {
	return s.id
}

// ListVersions returns the package called name at the current head of the reference.
func (s *GitSource) ListVersions(ctx context.Context, name domain.PackageName) ([]domain.PackageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.resolveHead(ctx)
	if err != nil {
		return nil, err
	}
	pkg, err := s.packageAt(ctx, commit, name)
	if err != nil || pkg == nil {
		return nil, err
	}
	return []domain.PackageID{pkg.ID()}, nil
}

// FetchSummary returns the summary of id. A precise revision on id is used as is.
func (s *GitSource) FetchSummary(ctx context.Context, id domain.PackageID) (*domain.Summary, error) {
	pkg, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.SummaryFromPackage(pkg, ""), nil
}

// Materialize checks the package out into the cache.
func (s *GitSource) Materialize(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	return s.lookup(ctx, id)
}

func (s *GitSource) lookup(ctx context.Context, id domain.PackageID) (*domain.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit := id.Source().Precise
	if commit == "" {
		var err error
		if commit, err = s.resolveHead(ctx); err != nil {
			return nil, err
		}
	} else if err := s.sync(ctx, commit); err != nil {
		return nil, err
	}

	pkg, err := s.packageAt(ctx, commit, id.Name())
	if err != nil {
		return nil, err
	}
	if pkg == nil || pkg.ID() != id {
		return nil, zerr.With(domain.ErrPackageNotFound, "package", id.String())
	}
	return pkg, nil
}

// sync makes sure the mirror is present. When want is already in the mirror
// no network access happens.
func (s *GitSource) sync(ctx context.Context, want string) error {
	if s.synced {
		return nil
	}

	var err error
	if _, statErr := os.Stat(s.dbDir); statErr == nil {
		if want != "" {
			if _, resolveErr := s.client.ResolveRef(ctx, s.dbDir, domain.GitReference{
				Kind:  domain.GitRev,
				Value: want,
			}); resolveErr == nil {
				return nil
			}
		}
		err = s.client.Fetch(ctx, s.dbDir)
	} else {
		err = s.client.Clone(ctx, s.id.Location, s.dbDir)
	}
	if err != nil {
		return s.fetchError(err)
	}
	s.synced = true
	return nil
}

func (s *GitSource) resolveHead(ctx context.Context) (string, error) {
	if s.head != "" {
		return s.head, nil
	}
	if err := s.sync(ctx, ""); err != nil {
		return "", err
	}
	commit, err := s.client.ResolveRef(ctx, s.dbDir, s.id.Reference)
	if err != nil {
		return "", s.fetchError(err)
	}
	s.head = commit
	return commit, nil
}

// packageAt returns the package called name in the checkout of commit, or nil if the
// repository does not contain it.
func (s *GitSource) packageAt(ctx context.Context, commit string, name domain.PackageName) (*domain.Package, error) {
	ws, ok := s.workspaces[commit]
	if !ok {
		dest := filepath.Join(s.checkoutRoot, commit)
		if err := s.client.Checkout(ctx, s.dbDir, commit, dest); err != nil {
			return nil, zerr.With(s.fetchError(err), "commit", commit)
		}
		loaded, err := s.loader.LoadWorkspace(dest, s.registry)
		if err != nil {
			return nil, zerr.With(s.fetchError(err), "commit", commit)
		}
		ws = loaded
		s.workspaces[commit] = ws
	}

	member, ok := ws.Member(name)
	if !ok {
		return nil, nil
	}
	id := domain.NewPackageID(name, member.Manifest().Package.Version, s.id.WithPrecise(commit))
	return domain.NewPackage(id, member.Manifest(), member.ManifestPath()), nil
}

func (s *GitSource) fetchError(err error) error {
	return zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "source", s.id.String())
}
