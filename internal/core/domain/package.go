package domain

import "path/filepath"

// Package is a materialized package: its id, its manifest and where the manifest lives.
// Packages are immutable once constructed and are shared by pointer.
type Package struct {
	id           PackageID
	manifest     *Manifest
	manifestPath string
}

// NewPackage creates a Package.
func NewPackage(id PackageID, manifest *Manifest, manifestPath string) *Package {
	return &Package{
		id:           id,
		manifest:     manifest,
		manifestPath: filepath.Clean(manifestPath),
	}
}

// ID returns the package id.
func (p *Package) ID() PackageID { return p.id }

// Name returns the package name.
func (p *Package) Name() PackageName { return p.id.Name() }

// Manifest returns the parsed manifest.
func (p *Package) Manifest() *Manifest { return p.manifest }

// ManifestPath returns the absolute path of the manifest file.
func (p *Package) ManifestPath() string { return p.manifestPath }

// Root returns the directory containing the manifest.
func (p *Package) Root() string {
	return filepath.Dir(p.manifestPath)
}

// SourceDir returns the directory holding the package sources.
func (p *Package) SourceDir() string {
	return filepath.Join(p.Root(), DefaultSourceDirName)
}

// Summary is the cheap metadata of a package version used during resolution:
// its id, its declared dependencies and an optional content checksum.
type Summary struct {
	ID           PackageID
	Dependencies []DependencyRequirement
	Checksum     string
}

// SummaryFromManifest derives a summary for id from its parsed manifest.
func SummaryFromManifest(id PackageID, m *Manifest, checksum string) *Summary {
	deps := make([]DependencyRequirement, len(m.Dependencies))
	copy(deps, m.Dependencies)
	return &Summary{
		ID:           id,
		Dependencies: deps,
		Checksum:     checksum,
	}
}

// SummaryFromPackage derives a summary from a materialized package.
func SummaryFromPackage(p *Package, checksum string) *Summary {
	return SummaryFromManifest(p.id, p.manifest, checksum)
}
