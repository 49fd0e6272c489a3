package config

import (
	"fmt"
	"path/filepath"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var (
	errEmptyManifest      = zerr.New("manifest is empty")
	errExpectedMapping    = zerr.New("expected a mapping")
	errExpectedSequence   = zerr.New("expected a sequence")
	errExpectedScalar     = zerr.New("expected a scalar value")
	errDuplicateKey       = zerr.New("key is defined more than once")
	errUnknownField       = zerr.New("unknown field")
	errMissingField       = zerr.New("required field is missing")
	errConflictingSources = zerr.New("dependency names more than one source")
	errConflictingRefs    = zerr.New("git dependency takes at most one of branch, tag or rev")
	errRefWithoutGit      = zerr.New("branch, tag and rev are only valid for git dependencies")
	errMissingVersion     = zerr.New("registry dependency requires a version")
	errNoPackageOrMembers = zerr.New("manifest declares neither a package nor a workspace")
)

// manifestParser turns the YAML node tree of one manifest into a domain.Manifest.
// Working on nodes rather than decoding into structs keeps line and column information
// for every field and lets duplicate keys be rejected.
type manifestParser struct {
	path     string
	dir      string
	registry domain.SourceID
	fs       FileSystem
	logger   ports.Logger
}

type keyValue struct {
	key   *yaml.Node
	value *yaml.Node
}

func (p *manifestParser) fail(field string, node *yaml.Node, err error) *domain.ManifestError {
	e := &domain.ManifestError{Path: p.path, Field: field, Err: err}
	if node != nil {
		e.Line = node.Line
		e.Column = node.Column
	}
	return e
}

func (p *manifestParser) parse(data []byte) (*domain.Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, p.fail("", nil, err)
	}
	if len(doc.Content) == 0 {
		return nil, p.fail("", nil, errEmptyManifest)
	}

	sections, err := p.mapping("", doc.Content[0], errDuplicateKey)
	if err != nil {
		return nil, err
	}

	var pkgNode, depsNode, targetsNode, workspaceNode *yaml.Node
	for _, kv := range sections {
		switch kv.key.Value {
		case "package":
			pkgNode = kv.value
		case "dependencies":
			depsNode = kv.value
		case "targets":
			targetsNode = kv.value
		case "workspace":
			workspaceNode = kv.value
		default:
			p.logger.Warn(fmt.Sprintf("%s:%d: unknown section %q ignored", p.path, kv.key.Line, kv.key.Value))
		}
	}

	m := &domain.Manifest{}
	if workspaceNode != nil {
		if m.Workspace, err = p.parseWorkspace(workspaceNode); err != nil {
			return nil, err
		}
	}
	if pkgNode == nil {
		if m.Workspace == nil {
			return nil, p.fail("package", doc.Content[0], errNoPackageOrMembers)
		}
		if depsNode != nil || targetsNode != nil {
			p.logger.Warn(fmt.Sprintf("%s: dependencies and targets of a virtual manifest are ignored", p.path))
		}
		return m, nil
	}

	if m.Package, err = p.parsePackage(pkgNode); err != nil {
		return nil, err
	}
	if depsNode != nil {
		if m.Dependencies, err = p.parseDependencies(depsNode); err != nil {
			return nil, err
		}
	}
	if m.Targets, err = p.parseTargets(targetsNode, m.Package.Name); err != nil {
		return nil, err
	}
	return m, nil
}

// mapping returns the key/value pairs of a mapping node, rejecting repeated keys with dupErr.
func (p *manifestParser) mapping(field string, node *yaml.Node, dupErr error) ([]keyValue, error) {
	if node.Kind != yaml.MappingNode {
		return nil, p.fail(field, node, errExpectedMapping)
	}
	seen := make(map[string]bool, len(node.Content)/2)
	pairs := make([]keyValue, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return nil, p.fail(join(field, key.Value), key, dupErr)
		}
		seen[key.Value] = true
		pairs = append(pairs, keyValue{key: key, value: value})
	}
	return pairs, nil
}

func (p *manifestParser) scalar(field string, node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", p.fail(field, node, errExpectedScalar)
	}
	return node.Value, nil
}

func (p *manifestParser) stringList(field string, node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, p.fail(field, node, errExpectedSequence)
	}
	out := make([]string, 0, len(node.Content))
	for i, item := range node.Content {
		s, err := p.scalar(fmt.Sprintf("%s[%d]", field, i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *manifestParser) parsePackage(node *yaml.Node) (domain.PackageMetadata, error) {
	var meta domain.PackageMetadata
	pairs, err := p.mapping("package", node, errDuplicateKey)
	if err != nil {
		return meta, err
	}

	var haveVersion bool
	for _, kv := range pairs {
		field := join("package", kv.key.Value)
		switch kv.key.Value {
		case "name":
			raw, err := p.scalar(field, kv.value)
			if err != nil {
				return meta, err
			}
			if meta.Name, err = domain.NewPackageName(raw); err != nil {
				return meta, p.fail(field, kv.value, err)
			}
		case "version":
			raw, err := p.scalar(field, kv.value)
			if err != nil {
				return meta, err
			}
			if meta.Version, err = domain.ParseVersion(raw); err != nil {
				return meta, p.fail(field, kv.value, err)
			}
			haveVersion = true
		case "description":
			if meta.Description, err = p.scalar(field, kv.value); err != nil {
				return meta, err
			}
		case "license":
			if meta.License, err = p.scalar(field, kv.value); err != nil {
				return meta, err
			}
		case "authors":
			if meta.Authors, err = p.stringList(field, kv.value); err != nil {
				return meta, err
			}
		default:
			return meta, p.fail(field, kv.key, errUnknownField)
		}
	}

	if meta.Name == "" {
		return meta, p.fail("package.name", node, errMissingField)
	}
	if !haveVersion {
		return meta, p.fail("package.version", node, errMissingField)
	}
	return meta, nil
}

func (p *manifestParser) parseDependencies(node *yaml.Node) ([]domain.DependencyRequirement, error) {
	pairs, err := p.mapping("dependencies", node, domain.ErrDuplicateDependency)
	if err != nil {
		return nil, err
	}

	deps := make([]domain.DependencyRequirement, 0, len(pairs))
	for _, kv := range pairs {
		field := join("dependencies", kv.key.Value)
		name, err := domain.NewPackageName(kv.key.Value)
		if err != nil {
			return nil, p.fail(field, kv.key, err)
		}
		dep, err := p.parseDependency(field, name, kv.value)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// dependencyFields holds the raw values of a detailed dependency entry.
type dependencyFields struct {
	version, registry, path, git string
	refs                         []domain.GitReference
	features                     []string
	versionNode                  *yaml.Node
}

func (p *manifestParser) parseDependency(
	field string,
	name domain.PackageName,
	node *yaml.Node,
) (domain.DependencyRequirement, error) {
	dep := domain.DependencyRequirement{Name: name}

	// Shorthand: `name: "^1.2"` is a registry dependency on the default registry.
	if node.Kind == yaml.ScalarNode {
		req, err := domain.ParseVersionReq(node.Value)
		if err != nil {
			return dep, p.fail(field, node, err)
		}
		dep.Req = req
		dep.Source = p.registry
		return dep, nil
	}

	f, err := p.dependencyFields(field, node)
	if err != nil {
		return dep, err
	}
	dep.Features = f.features

	sources := 0
	for _, s := range []string{f.path, f.git, f.registry} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		return dep, p.fail(field, node, errConflictingSources)
	}
	if len(f.refs) > 1 {
		return dep, p.fail(field, node, errConflictingRefs)
	}
	if len(f.refs) > 0 && f.git == "" {
		return dep, p.fail(field, node, errRefWithoutGit)
	}

	switch {
	case f.path != "":
		dir := f.path
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(p.dir, dir)
		}
		dep.Source = domain.NewPathSource(dir)
	case f.git != "":
		var ref domain.GitReference
		if len(f.refs) == 1 {
			ref = f.refs[0]
		}
		dep.Source = domain.NewGitSource(f.git, ref)
	default:
		if f.version == "" {
			return dep, p.fail(join(field, "version"), node, errMissingVersion)
		}
		dep.Source = p.registry
		if f.registry != "" {
			dep.Source = domain.NewRegistrySource(f.registry)
		}
	}

	dep.Req = domain.AnyVersion()
	if f.version != "" {
		if dep.Req, err = domain.ParseVersionReq(f.version); err != nil {
			return dep, p.fail(join(field, "version"), f.versionNode, err)
		}
	}
	return dep, nil
}

func (p *manifestParser) dependencyFields(field string, node *yaml.Node) (dependencyFields, error) {
	var f dependencyFields
	pairs, err := p.mapping(field, node, errDuplicateKey)
	if err != nil {
		return f, err
	}

	for _, kv := range pairs {
		sub := join(field, kv.key.Value)
		if kv.key.Value == "features" {
			if f.features, err = p.stringList(sub, kv.value); err != nil {
				return f, err
			}
			continue
		}

		value, err := p.scalar(sub, kv.value)
		if err != nil {
			return f, err
		}
		switch kv.key.Value {
		case "version":
			f.version, f.versionNode = value, kv.value
		case "registry":
			f.registry = value
		case "path":
			f.path = value
		case "git":
			f.git = value
		case "branch":
			f.refs = append(f.refs, domain.GitReference{Kind: domain.GitBranch, Value: value})
		case "tag":
			f.refs = append(f.refs, domain.GitReference{Kind: domain.GitTag, Value: value})
		case "rev":
			f.refs = append(f.refs, domain.GitReference{Kind: domain.GitRev, Value: value})
		default:
			return f, p.fail(sub, kv.key, errUnknownField)
		}
	}
	return f, nil
}

func (p *manifestParser) parseTargets(node *yaml.Node, pkg domain.PackageName) ([]domain.Target, error) {
	if node == nil {
		return p.defaultTargets(pkg), nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, p.fail("targets", node, errExpectedSequence)
	}

	targets := make([]domain.Target, 0, len(node.Content))
	seen := make(map[string]bool, len(node.Content))
	for i, item := range node.Content {
		field := fmt.Sprintf("targets[%d]", i)
		t, err := p.parseTarget(field, item, pkg)
		if err != nil {
			return nil, err
		}
		if seen[t.String()] {
			return nil, p.fail(field, item, zerr.With(domain.ErrDuplicateTarget, "target", t.String()))
		}
		seen[t.String()] = true
		targets = append(targets, t)
	}
	return targets, nil
}

func (p *manifestParser) parseTarget(field string, node *yaml.Node, pkg domain.PackageName) (domain.Target, error) {
	var t domain.Target
	pairs, err := p.mapping(field, node, errDuplicateKey)
	if err != nil {
		return t, err
	}

	for _, kv := range pairs {
		sub := join(field, kv.key.Value)
		value, err := p.scalar(sub, kv.value)
		if err != nil {
			return t, err
		}
		switch kv.key.Value {
		case "kind":
			kind, ok := domain.ParseTargetKind(value)
			if !ok {
				return t, p.fail(sub, kv.value, zerr.With(errUnknownField, "kind", value))
			}
			t.Kind = kind
		case "name":
			t.Name = value
		case "entry":
			t.Entry = value
		default:
			return t, p.fail(sub, kv.key, errUnknownField)
		}
	}

	if t.Kind == "" {
		return t, p.fail(join(field, "kind"), node, errMissingField)
	}
	if t.Name == "" {
		t.Name = domain.DefaultTargetName(pkg)
	}
	if t.Entry == "" {
		t.Entry = defaultEntry(t)
	}
	return t, nil
}

// defaultTargets implies a lib target, plus a bin target when src/main.keel exists.
func (p *manifestParser) defaultTargets(pkg domain.PackageName) []domain.Target {
	name := domain.DefaultTargetName(pkg)
	targets := []domain.Target{{Kind: domain.TargetKindLib, Name: name, Entry: domain.DefaultLibEntry}}
	if _, err := p.fs.Stat(filepath.Join(p.dir, domain.DefaultBinEntry)); err == nil {
		targets = append(targets, domain.Target{Kind: domain.TargetKindBin, Name: name, Entry: domain.DefaultBinEntry})
	}
	return targets
}

func defaultEntry(t domain.Target) string {
	switch t.Kind {
	case domain.TargetKindLib:
		return domain.DefaultLibEntry
	case domain.TargetKindBin:
		return domain.DefaultBinEntry
	case domain.TargetKindTest:
		return filepath.Join("tests", t.Name+".keel")
	default:
		return filepath.Join("benches", t.Name+".keel")
	}
}

func (p *manifestParser) parseWorkspace(node *yaml.Node) (*domain.WorkspaceDecl, error) {
	pairs, err := p.mapping("workspace", node, errDuplicateKey)
	if err != nil {
		return nil, err
	}
	decl := &domain.WorkspaceDecl{}
	for _, kv := range pairs {
		field := join("workspace", kv.key.Value)
		if kv.key.Value != "members" {
			return nil, p.fail(field, kv.key, errUnknownField)
		}
		if decl.Members, err = p.stringList(field, kv.value); err != nil {
			return nil, err
		}
	}
	return decl, nil
}

func join(field, key string) string {
	if field == "" {
		return key
	}
	return field + "." + key
}
