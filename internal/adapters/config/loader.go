// Package config loads keel manifests and discovers workspaces.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

var errMemberIsVirtual = zerr.New("workspace member has no package section")

// Loader implements ports.ManifestLoader over YAML manifests.
type Loader struct {
	Logger ports.Logger
	FS     FileSystem
}

// NewLoader creates a Loader reading from the real filesystem.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{Logger: logger, FS: NewOSFS()}
}

// LoadManifest reads and parses the manifest at path.
func (l *Loader) LoadManifest(path string, registry domain.SourceID) (*domain.Manifest, error) {
	path = filepath.Clean(path)
	data, err := l.FS.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, zerr.With(domain.ErrManifestNotFound, "path", path)
		}
		return nil, zerr.With(zerr.Wrap(err, domain.ErrManifestReadFailed.Error()), "path", path)
	}

	p := &manifestParser{
		path:     path,
		dir:      filepath.Dir(path),
		registry: registry,
		fs:       l.FS,
		logger:   l.Logger,
	}
	return p.parse(data)
}

// LoadWorkspace finds the manifest governing cwd and loads the workspace it belongs to.
// A package outside any workspace is returned as a workspace of one.
func (l *Loader) LoadWorkspace(cwd string, registry domain.SourceID) (*domain.Workspace, error) {
	rootPath, err := l.FindManifest(cwd, registry)
	if err != nil {
		return nil, err
	}
	root, err := l.LoadManifest(rootPath, registry)
	if err != nil {
		return nil, err
	}

	ws := &domain.Workspace{Root: filepath.Dir(rootPath), ManifestPath: rootPath}
	if root.Workspace == nil {
		ws.Members = []*domain.Package{newMember(rootPath, root)}
		return ws, nil
	}

	memberDirs, err := l.resolveMemberPaths(ws.Root, root.Workspace.Members)
	if err != nil {
		return nil, err
	}

	// Track member names to ensure uniqueness
	memberNames := make(map[domain.PackageName]string)
	if !root.IsVirtual() {
		ws.Members = append(ws.Members, newMember(rootPath, root))
		memberNames[root.Package.Name] = "."
	}

	for _, dir := range memberDirs {
		if dir == ws.Root {
			continue
		}
		member, err := l.loadMember(ws.Root, dir, registry, memberNames)
		if err != nil {
			return nil, err
		}
		if member != nil {
			ws.Members = append(ws.Members, member)
		}
	}

	if len(ws.Members) == 0 {
		return nil, zerr.With(domain.ErrEmptyWorkspace, "workspace", rootPath)
	}
	if err := checkMemberDependencies(ws.Members); err != nil {
		return nil, err
	}
	return ws, nil
}

func (l *Loader) loadMember(
	root, dir string,
	registry domain.SourceID,
	memberNames map[domain.PackageName]string,
) (*domain.Package, error) {
	relPath, _ := filepath.Rel(root, dir)

	manifestPath := filepath.Join(dir, domain.ManifestFileName)
	if _, err := l.FS.Stat(manifestPath); err != nil {
		l.Logger.Warn(fmt.Sprintf("%s missing in member %s, skipping", domain.ManifestFileName, relPath))
		return nil, nil
	}

	m, err := l.LoadManifest(manifestPath, registry)
	if err != nil {
		return nil, err
	}
	if m.IsVirtual() {
		return nil, &domain.ManifestError{Path: manifestPath, Field: "package", Err: errMemberIsVirtual}
	}
	if m.Workspace != nil {
		l.Logger.Warn(fmt.Sprintf("workspace section of member %s is ignored", relPath))
	}

	if existing, exists := memberNames[m.Package.Name]; exists {
		err := zerr.With(domain.ErrDuplicateMember, "package", m.Package.Name.String())
		err = zerr.With(err, "first_occurrence", existing)
		err = zerr.With(err, "duplicate_at", relPath)
		return nil, err
	}
	memberNames[m.Package.Name] = relPath

	return newMember(manifestPath, m), nil
}

// FindManifest walks up from cwd to the nearest manifest, then keeps walking to find an
// enclosing workspace root listing the directory of that manifest as a member.
// It returns the path of the workspace root manifest, or of the nearest manifest when no
// workspace encloses it.
func (l *Loader) FindManifest(cwd string, registry domain.SourceID) (string, error) {
	currentDir := filepath.Clean(cwd)
	if isDir, err := l.FS.IsDir(currentDir); err == nil && !isDir {
		currentDir = filepath.Dir(currentDir)
	}

	var nearest string
	for {
		candidate := filepath.Join(currentDir, domain.ManifestFileName)
		if _, err := l.FS.Stat(candidate); err == nil {
			if nearest == "" {
				nearest = candidate
				isRoot, err := l.declaresWorkspace(candidate, registry)
				if err != nil {
					return "", err
				}
				if isRoot {
					return nearest, nil
				}
			} else if l.listsMember(candidate, filepath.Dir(nearest), registry) {
				return candidate, nil
			}
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root
			break
		}
		currentDir = parentDir
	}

	if nearest == "" {
		return "", zerr.With(domain.ErrManifestNotFound, "cwd", cwd)
	}
	return nearest, nil
}

func (l *Loader) declaresWorkspace(path string, registry domain.SourceID) (bool, error) {
	m, err := l.LoadManifest(path, registry)
	if err != nil {
		return false, err
	}
	return m.Workspace != nil, nil
}

// listsMember reports whether the manifest at path is a workspace root whose member
// globs match dir. Manifests that fail to parse are not considered workspace roots.
func (l *Loader) listsMember(path, dir string, registry domain.SourceID) bool {
	m, err := l.LoadManifest(path, registry)
	if err != nil || m.Workspace == nil {
		return false
	}
	members, err := l.resolveMemberPaths(filepath.Dir(path), m.Workspace.Members)
	if err != nil {
		return false
	}
	return slices.Contains(members, dir)
}

// resolveMemberPaths expands member globs into a sorted, deduplicated list of directories.
func (l *Loader) resolveMemberPaths(root string, patterns []string) ([]string, error) {
	paths := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := l.FS.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "glob pattern failed"), "pattern", pattern)
		}
		for _, match := range matches {
			if isDir, err := l.FS.IsDir(match); err == nil && isDir {
				paths[filepath.Clean(match)] = struct{}{}
			}
		}
	}

	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	slices.Sort(sorted)
	return sorted, nil
}

// checkMemberDependencies fails fast when two members name the same dependency with
// different sources. One resolution cannot satisfy both.
func checkMemberDependencies(members []*domain.Package) error {
	type declaration struct {
		member domain.PackageName
		source domain.SourceID
	}
	seen := make(map[domain.PackageName]declaration)
	for _, m := range members {
		for _, dep := range m.Manifest().Dependencies {
			prev, ok := seen[dep.Name]
			if !ok {
				seen[dep.Name] = declaration{member: m.Name(), source: dep.Source}
				continue
			}
			if prev.source.SameSource(dep.Source) {
				continue
			}
			err := zerr.With(domain.ErrWorkspaceDependencyConflict, "dependency", dep.Name.String())
			err = zerr.With(err, "first_member", prev.member.String())
			err = zerr.With(err, "first_source", prev.source.String())
			err = zerr.With(err, "second_member", m.Name().String())
			err = zerr.With(err, "second_source", dep.Source.String())
			return err
		}
	}
	return nil
}

func newMember(manifestPath string, m *domain.Manifest) *domain.Package {
	id := domain.NewPackageID(m.Package.Name, m.Package.Version, domain.NewPathSource(filepath.Dir(manifestPath)))
	return domain.NewPackage(id, m, manifestPath)
}
