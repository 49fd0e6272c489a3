package domain

import (
	"fmt"
	"strings"
)

// TargetKind is the kind of build output a target produces.
type TargetKind string

const (
	// TargetKindLib is a library consumed by dependents.
	TargetKindLib TargetKind = "lib"
	// TargetKindBin is an executable.
	TargetKindBin TargetKind = "bin"
	// TargetKindTest is a test harness.
	TargetKindTest TargetKind = "test"
	// TargetKindBench is a benchmark harness.
	TargetKindBench TargetKind = "bench"
)

// ParseTargetKind validates a target kind.
func ParseTargetKind(s string) (TargetKind, bool) {
	switch k := TargetKind(s); k {
	case TargetKindLib, TargetKindBin, TargetKindTest, TargetKindBench:
		return k, true
	default:
		return "", false
	}
}

// Target is a declared build target of a package.
type Target struct {
	Kind  TargetKind
	Name  string
	Entry string
}

// String returns "kind:name".
func (t Target) String() string {
	return string(t.Kind) + ":" + t.Name
}

// DependencyRequirement is a dependency edge declared in a manifest.
type DependencyRequirement struct {
	Name     PackageName
	Req      VersionReq
	Source   SourceID
	Features []string
}

// MatchesID reports whether id satisfies both the version constraint and the source.
func (d DependencyRequirement) MatchesID(id PackageID) bool {
	return id.Name() == d.Name && d.Source.SameSource(id.Source()) && d.Req.Matches(id.Version())
}

// String returns "name req (source)".
func (d DependencyRequirement) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Name, d.Req, d.Source)
}

// PackageMetadata is the [package] section of a manifest.
type PackageMetadata struct {
	Name        PackageName
	Version     Version
	Description string
	License     string
	Authors     []string
}

// WorkspaceDecl lists workspace members as glob patterns relative to the manifest.
type WorkspaceDecl struct {
	Members []string
}

// Manifest is the parsed declaration of a package.
type Manifest struct {
	Package      PackageMetadata
	Dependencies []DependencyRequirement
	Targets      []Target
	Workspace    *WorkspaceDecl
}

// IsVirtual reports whether the manifest only declares a workspace and no package.
func (m *Manifest) IsVirtual() bool {
	return m.Package.Name == ""
}

// Target returns the first target of the given kind.
func (m *Manifest) Target(kind TargetKind) (Target, bool) {
	for _, t := range m.Targets {
		if t.Kind == kind {
			return t, true
		}
	}
	return Target{}, false
}

// TargetsOf returns all targets of the given kind in declaration order.
func (m *Manifest) TargetsOf(kind TargetKind) []Target {
	var out []Target
	for _, t := range m.Targets {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Dependency looks up a declared dependency by name.
func (m *Manifest) Dependency(name PackageName) (DependencyRequirement, bool) {
	for _, d := range m.Dependencies {
		if d.Name == name {
			return d, true
		}
	}
	return DependencyRequirement{}, false
}

// DefaultTargetName derives a target name from a package name.
func DefaultTargetName(name PackageName) string {
	return strings.ReplaceAll(name.String(), "-", "_")
}
