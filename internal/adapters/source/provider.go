// Package source implements the places packages come from: local directories,
// git repositories and registry indexes.
package source

import (
	"net/http"
	"path/filepath"
	"sync"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// Provider hands out one Source per canonical source id for the duration of a run.
type Provider struct {
	cfg    ports.SourceConfig
	loader ports.ManifestLoader
	hasher ports.Hasher
	logger ports.Logger
	git    GitClient
	client *http.Client

	mu      sync.Mutex
	sources map[domain.SourceID]ports.Source
}

// Source returns the source serving id, creating it on first use.
func (p *Provider) Source(id domain.SourceID) (ports.Source, error) {
	key := id.Canonical()

	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[key]; ok {
		return src, nil
	}

	src, err := p.newSource(key)
	if err != nil {
		return nil, err
	}
	p.sources[key] = src
	return src, nil
}

func (p *Provider) newSource(id domain.SourceID) (ports.Source, error) {
	switch id.Kind {
	case domain.SourceKindPath:
		return NewPathSource(id, p.cfg.Registry, p.loader, p.hasher), nil
	case domain.SourceKindGit:
		return NewGitSource(id, p.cfg.Registry, p.cfg.CacheDir, p.git, p.loader), nil
	case domain.SourceKindRegistry:
		index, err := p.newIndex(id)
		if err != nil {
			return nil, err
		}
		return NewRegistrySource(id, index, p.cfg.CacheDir, p.loader, p.logger), nil
	default:
		return nil, zerr.With(domain.ErrUnsupportedSource, "source", id.String())
	}
}

func (p *Provider) newIndex(id domain.SourceID) (Index, error) {
	if dir, ok := isLocalRegistry(id.Location); ok {
		return NewFileIndex(dir), nil
	}
	cacheDir := filepath.Join(domain.RegistryCachePath(p.cfg.CacheDir), "index")
	return NewHTTPIndex(id.Location, cacheDir, p.client, p.logger)
}

// Factory builds providers from the process-wide collaborators.
type Factory struct {
	loader ports.ManifestLoader
	hasher ports.Hasher
	logger ports.Logger
	git    GitClient
	client *http.Client
}

// NewFactory creates a Factory. A nil client uses http.DefaultClient.
func NewFactory(
	loader ports.ManifestLoader,
	hasher ports.Hasher,
	logger ports.Logger,
	git GitClient,
	client *http.Client,
) *Factory {
	return &Factory{
		loader: loader,
		hasher: hasher,
		logger: logger,
		git:    git,
		client: client,
	}
}

// NewProvider returns an empty provider for one run.
func (f *Factory) NewProvider(cfg ports.SourceConfig) (ports.SourceProvider, error) {
	if cfg.CacheDir == "" {
		return nil, zerr.With(domain.ErrUnsupportedSource, "reason", "no cache directory configured")
	}
	if cfg.Registry.IsZero() {
		cfg.Registry = domain.NewRegistrySource(domain.DefaultRegistryURL)
	}
	return &Provider{
		cfg:     cfg,
		loader:  f.loader,
		hasher:  f.hasher,
		logger:  f.logger,
		git:     f.git,
		client:  f.client,
		sources: make(map[domain.SourceID]ports.Source),
	}, nil
}
