package domain

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"
)

// Version is a semantic version. It is a comparable value and can be used as a map key.
type Version struct {
	major, minor, patch uint64
	pre, meta           string
}

// ParseVersion parses a strict MAJOR.MINOR.PATCH[-pre][+build] version.
func ParseVersion(s string) (Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, zerr.With(zerr.Wrap(err, ErrInvalidVersion.Error()), "version", s)
	}
	return versionFrom(v), nil
}

// MustParseVersion is like ParseVersion but panics on malformed input.
// It is meant for constant versions and test fixtures.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func versionFrom(v *semver.Version) Version {
	return Version{
		major: v.Major(),
		minor: v.Minor(),
		patch: v.Patch(),
		pre:   v.Prerelease(),
		meta:  v.Metadata(),
	}
}

func (v Version) semver() *semver.Version {
	return semver.New(v.major, v.minor, v.patch, v.pre, v.meta)
}

// Major returns the major component.
func (v Version) Major() uint64 { return v.major }

// Minor returns the minor component.
func (v Version) Minor() uint64 { return v.minor }

// Patch returns the patch component.
func (v Version) Patch() uint64 { return v.patch }

// Prerelease returns the pre-release identifier, if any.
func (v Version) Prerelease() string { return v.pre }

// IsZero reports whether v is the zero value.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare orders versions by semantic version precedence.
// Build metadata does not participate in precedence and is compared last as plain text.
func (v Version) Compare(other Version) int {
	if c := v.semver().Compare(other.semver()); c != 0 {
		return c
	}
	return strings.Compare(v.meta, other.meta)
}

// String returns the canonical textual form.
func (v Version) String() string {
	return v.semver().String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionReq is a version constraint such as "^1.2", ">=1.0, <2.0" or "=1.4.3".
// A bare version is a compatible-with requirement, as if prefixed by "^".
type VersionReq struct {
	raw         string
	constraints *semver.Constraints
}

// AnyVersion returns the requirement matched by every version.
func AnyVersion() VersionReq {
	return MustParseVersionReq("*")
}

// ExactVersion returns a requirement matched only by v.
func ExactVersion(v Version) VersionReq {
	return MustParseVersionReq("=" + v.String())
}

// ParseVersionReq parses a constraint. Malformed constraints are rejected here,
// never at match time.
func ParseVersionReq(s string) (VersionReq, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		raw = "*"
	}

	alternatives := strings.Split(raw, "||")
	for i, alt := range alternatives {
		parts := strings.Split(alt, ",")
		for j, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				return VersionReq{}, zerr.With(ErrInvalidVersionReq, "requirement", s)
			}
			if part[0] >= '0' && part[0] <= '9' {
				part = "^" + part
			}
			parts[j] = part
		}
		alternatives[i] = strings.Join(parts, ", ")
	}

	c, err := semver.NewConstraint(strings.Join(alternatives, " || "))
	if err != nil {
		return VersionReq{}, zerr.With(zerr.Wrap(err, ErrInvalidVersionReq.Error()), "requirement", s)
	}
	return VersionReq{raw: raw, constraints: c}, nil
}

// MustParseVersionReq is like ParseVersionReq but panics on malformed input.
// It is meant for constant requirements and test fixtures.
func MustParseVersionReq(s string) VersionReq {
	req, err := ParseVersionReq(s)
	if err != nil {
		panic(err)
	}
	return req
}

// Matches reports whether v satisfies the requirement. The zero VersionReq matches everything.
func (r VersionReq) Matches(v Version) bool {
	if r.constraints == nil {
		return true
	}
	return r.constraints.Check(v.semver())
}

// IsAny reports whether the requirement accepts every version.
func (r VersionReq) IsAny() bool {
	return r.constraints == nil || r.raw == "*"
}

// String returns the requirement as written.
func (r VersionReq) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}
