package resolver

import (
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

// LockPolicy controls how an existing lock document is used.
type LockPolicy string

const (
	// LockPolicyConservative reuses every locked entry that still satisfies the current
	// requirements and resolves the rest.
	LockPolicyConservative LockPolicy = "conservative"
	// LockPolicyFull ignores the lock and resolves everything afresh.
	LockPolicyFull LockPolicy = "full"
	// LockPolicyNone never updates the lock: resolution fails if its outcome differs from it.
	LockPolicyNone LockPolicy = "none"
)

// ParseLockPolicy validates a policy name. The empty string is conservative.
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch p := LockPolicy(s); p {
	case "":
		return LockPolicyConservative, nil
	case LockPolicyConservative, LockPolicyFull, LockPolicyNone:
		return p, nil
	default:
		return "", zerr.With(zerr.New("unknown lock policy"), "policy", s)
	}
}

// SourcePrecedence decides what happens when requirements name one package from different sources.
type SourcePrecedence string

const (
	// PrecedenceOverride lets path beat git and git beat registry. The version
	// constraints of the overridden requirements still apply.
	PrecedenceOverride SourcePrecedence = "override"
	// PrecedenceStrict treats any two distinct sources for one name as a conflict.
	PrecedenceStrict SourcePrecedence = "strict"
)

// ParseSourcePrecedence validates a precedence name. The empty string is override.
func ParseSourcePrecedence(s string) (SourcePrecedence, error) {
	switch p := SourcePrecedence(s); p {
	case "":
		return PrecedenceOverride, nil
	case PrecedenceOverride, PrecedenceStrict:
		return p, nil
	default:
		return "", zerr.With(zerr.New("unknown source precedence"), "precedence", s)
	}
}

const defaultPrefetch = 8

// Request is the input of one resolution.
type Request struct {
	// Members are the workspace members. They are fixed and never backtracked.
	Members []*domain.Summary
	// Lock is the existing lock document, if any.
	Lock *domain.Lockfile
	// Policy defaults to LockPolicyConservative.
	Policy LockPolicy
	// Unlock names packages whose locked entries are discarded under the conservative policy.
	Unlock []domain.PackageName
	// Precedence defaults to PrecedenceOverride.
	Precedence SourcePrecedence
	// Prefetch bounds concurrent source queries. Defaults to 8.
	Prefetch int
}

func (r Request) withDefaults() Request {
	if r.Policy == "" {
		r.Policy = LockPolicyConservative
	}
	if r.Precedence == "" {
		r.Precedence = PrecedenceOverride
	}
	if r.Prefetch <= 0 {
		r.Prefetch = defaultPrefetch
	}
	return r
}
