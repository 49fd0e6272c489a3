package domain

import (
	"fmt"
	"strings"
)

// ManifestError identifies the offending field of a manifest that failed to parse.
type ManifestError struct {
	Path   string
	Field  string
	Line   int
	Column int
	Err    error
}

func (e *ManifestError) Error() string {
	var b strings.Builder
	b.WriteString(ErrManifestParseFailed.Error())
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
	}
	if e.Field != "" {
		b.WriteString(": field ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is makes errors.Is(err, ErrManifestParseFailed) hold for every manifest error.
func (e *ManifestError) Is(target error) bool {
	return target == ErrManifestParseFailed
}

func (e *ManifestError) Unwrap() error { return e.Err }

// RequirementTrace is a requirement together with the chain of packages that introduced it,
// starting at a workspace member.
type RequirementTrace struct {
	Requirement DependencyRequirement
	Chain       []PackageID
}

// String renders "a 1.0.0 -> b 2.1.0 requires c ^1.2 (source)".
func (t RequirementTrace) String() string {
	parts := make([]string, len(t.Chain))
	for i, id := range t.Chain {
		parts[i] = id.Name().String() + " " + id.Version().String()
	}
	return strings.Join(parts, " -> ") + " requires " + t.Requirement.String()
}

// ConflictError reports the package that could not be assigned and every
// requirement that took part in the conflict.
type ConflictError struct {
	Package      PackageName
	Requirements []RequirementTrace
	Unavailable  []error
	Reason       string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no version of %s satisfies all requirements", ErrResolutionConflict.Error(), e.Package)
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	for _, r := range e.Requirements {
		b.WriteString("\n  ")
		b.WriteString(r.String())
	}
	for _, err := range e.Unavailable {
		b.WriteString("\n  unavailable: ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Is makes errors.Is(err, ErrResolutionConflict) hold for every conflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrResolutionConflict
}
