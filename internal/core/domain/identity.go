package domain

import (
	"cmp"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unique"

	"go.trai.ch/zerr"
)

// SourceKind identifies the closed set of places packages come from.
type SourceKind string

const (
	// SourceKindRegistry is a versioned package index.
	SourceKindRegistry SourceKind = "registry"
	// SourceKindGit is a git repository pinned to a revision.
	SourceKindGit SourceKind = "git"
	// SourceKindPath is a directory on the local filesystem.
	SourceKindPath SourceKind = "path"
)

// Precedence ranks source kinds when several requirements name the same package.
// Higher wins under the override rule.
func (k SourceKind) Precedence() int {
	switch k {
	case SourceKindPath:
		return 3
	case SourceKindGit:
		return 2
	case SourceKindRegistry:
		return 1
	default:
		return 0
	}
}

// GitReferenceKind is the kind of git reference a dependency names.
type GitReferenceKind string

const (
	// GitDefaultBranch follows the repository HEAD.
	GitDefaultBranch GitReferenceKind = ""
	// GitBranch follows a named branch.
	GitBranch GitReferenceKind = "branch"
	// GitTag pins a tag.
	GitTag GitReferenceKind = "tag"
	// GitRev pins a revision.
	GitRev GitReferenceKind = "rev"
)

// GitReference is a branch, tag or revision to check out.
type GitReference struct {
	Kind  GitReferenceKind
	Value string
}

// String returns "kind=value", or the empty string for the default branch.
func (r GitReference) String() string {
	if r.Kind == GitDefaultBranch {
		return ""
	}
	return string(r.Kind) + "=" + r.Value
}

// SourceID identifies a source. Two ids with the same Canonical form refer to the
// same logical source; Precise records the exact git revision once resolved.
type SourceID struct {
	Kind      SourceKind
	Location  string
	Reference GitReference
	Precise   string
}

// NewRegistrySource returns the id of a package index at the given URL.
func NewRegistrySource(indexURL string) SourceID {
	return SourceID{Kind: SourceKindRegistry, Location: strings.TrimSuffix(indexURL, "/")}
}

// NewGitSource returns the id of a git repository at the given reference.
func NewGitSource(repoURL string, ref GitReference) SourceID {
	return SourceID{Kind: SourceKindGit, Location: strings.TrimSuffix(repoURL, "/"), Reference: ref}
}

// NewPathSource returns the id of a local directory. The directory is cleaned and must be absolute.
func NewPathSource(dir string) SourceID {
	return SourceID{Kind: SourceKindPath, Location: filepath.Clean(dir)}
}

// IsZero reports whether the id is unset.
func (s SourceID) IsZero() bool {
	return s == SourceID{}
}

// Canonical drops the precise revision.
func (s SourceID) Canonical() SourceID {
	s.Precise = ""
	return s
}

// WithPrecise returns a copy pinned to an exact revision.
func (s SourceID) WithPrecise(rev string) SourceID {
	s.Precise = rev
	return s
}

// SameSource reports whether both ids name the same logical source.
func (s SourceID) SameSource(other SourceID) bool {
	return s.Canonical() == other.Canonical()
}

// Compare orders ids by their textual form.
func (s SourceID) Compare(other SourceID) int {
	return cmp.Compare(s.String(), other.String())
}

// String returns the locator form used in lock documents, e.g.
// "registry+https://index.keel.dev" or "git+https://host/repo.git?tag=v1#<rev>".
func (s SourceID) String() string {
	switch s.Kind {
	case SourceKindRegistry:
		return "registry+" + s.Location
	case SourceKindGit:
		var b strings.Builder
		b.WriteString("git+")
		b.WriteString(s.Location)
		if ref := s.Reference.String(); ref != "" {
			b.WriteString("?")
			b.WriteString(ref)
		}
		if s.Precise != "" {
			b.WriteString("#")
			b.WriteString(s.Precise)
		}
		return b.String()
	case SourceKindPath:
		return "path+" + (&url.URL{Scheme: "file", Path: filepath.ToSlash(s.Location)}).String()
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SourceID) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SourceID) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceID(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSourceID is the inverse of SourceID.String.
func ParseSourceID(locator string) (SourceID, error) {
	kind, rest, ok := strings.Cut(locator, "+")
	if !ok || rest == "" {
		return SourceID{}, zerr.With(ErrInvalidSourceID, "locator", locator)
	}

	switch SourceKind(kind) {
	case SourceKindRegistry:
		return NewRegistrySource(rest), nil
	case SourceKindGit:
		return parseGitLocator(locator, rest)
	case SourceKindPath:
		u, err := url.Parse(rest)
		if err != nil || u.Scheme != "file" || u.Path == "" {
			return SourceID{}, zerr.With(ErrInvalidSourceID, "locator", locator)
		}
		return NewPathSource(filepath.FromSlash(u.Path)), nil
	default:
		return SourceID{}, zerr.With(ErrInvalidSourceID, "locator", locator)
	}
}

func parseGitLocator(locator, rest string) (SourceID, error) {
	rest, precise, _ := strings.Cut(rest, "#")
	repo, query, hasQuery := strings.Cut(rest, "?")
	if repo == "" {
		return SourceID{}, zerr.With(ErrInvalidSourceID, "locator", locator)
	}

	var ref GitReference
	if hasQuery {
		k, v, ok := strings.Cut(query, "=")
		kind := GitReferenceKind(k)
		if !ok || v == "" || (kind != GitBranch && kind != GitTag && kind != GitRev) {
			return SourceID{}, zerr.With(ErrInvalidSourceID, "locator", locator)
		}
		ref = GitReference{Kind: kind, Value: v}
	}

	return NewGitSource(repo, ref).WithPrecise(precise), nil
}

var validPackageNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

const maxPackageNameLen = 64

// PackageName is a validated package identifier.
type PackageName string

// NewPackageName validates s.
func NewPackageName(s string) (PackageName, error) {
	if len(s) > maxPackageNameLen || !validPackageNameRegex.MatchString(s) {
		return "", zerr.With(ErrInvalidPackageName, "package", s)
	}
	return PackageName(s), nil
}

// String returns the name.
func (n PackageName) String() string {
	return string(n)
}

type packageKey struct {
	name    PackageName
	version Version
	source  SourceID
}

// PackageID identifies a concrete package: a name, an exact version and a source.
// Ids are interned, so equality and hashing are cheap no matter how often an id is copied.
type PackageID struct {
	h unique.Handle[packageKey]
}

// NewPackageID returns the interned id for the triple.
func NewPackageID(name PackageName, version Version, source SourceID) PackageID {
	return PackageID{h: unique.Make(packageKey{name: name, version: version, source: source})}
}

func (id PackageID) key() packageKey {
	var zero unique.Handle[packageKey]
	if id.h == zero {
		return packageKey{}
	}
	return id.h.Value()
}

// IsZero reports whether the id is unset.
func (id PackageID) IsZero() bool {
	var zero unique.Handle[packageKey]
	return id.h == zero
}

// Name returns the package name.
func (id PackageID) Name() PackageName { return id.key().name }

// Version returns the exact version.
func (id PackageID) Version() Version { return id.key().version }

// Source returns the source the package comes from.
func (id PackageID) Source() SourceID { return id.key().source }

// Compare orders ids by name, then version, then source.
func (id PackageID) Compare(other PackageID) int {
	a, b := id.key(), other.key()
	if c := cmp.Compare(a.name, b.name); c != 0 {
		return c
	}
	if c := a.version.Compare(b.version); c != 0 {
		return c
	}
	return a.source.Compare(b.source)
}

// String returns "name version (source)".
func (id PackageID) String() string {
	k := id.key()
	return fmt.Sprintf("%s %s (%s)", k.name, k.version, k.source)
}
