package domain

import (
	"cmp"
	"slices"
)

// LockFormatVersion is the lock document version written by this build.
const LockFormatVersion = 1

// LockedPackage is the serializable projection of one resolved node.
// Path packages carry a zero Source: the directory on disk is authoritative for them.
type LockedPackage struct {
	Name         PackageName
	Version      Version
	Source       SourceID
	Checksum     string
	Dependencies []PackageName
}

// ID returns the package id the entry pins. Path entries have no reusable id.
func (p LockedPackage) ID() (PackageID, bool) {
	if p.Source.IsZero() {
		return PackageID{}, false
	}
	return NewPackageID(p.Name, p.Version, p.Source), true
}

func compareLocked(a, b LockedPackage) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := a.Version.Compare(b.Version); c != 0 {
		return c
	}
	return a.Source.Compare(b.Source)
}

// Lockfile records the complete outcome of a resolution so later runs reproduce it.
type Lockfile struct {
	Version  int
	Packages []LockedPackage
}

// NewLockfile creates a lock document from entries, sorting them.
func NewLockfile(packages []LockedPackage) *Lockfile {
	l := &Lockfile{Version: LockFormatVersion, Packages: slices.Clone(packages)}
	l.Sort()
	return l
}

// LockFromGraph projects a resolved graph into a lock document.
func LockFromGraph(g *ResolvedGraph) *Lockfile {
	nodes := g.Sorted()
	packages := make([]LockedPackage, 0, len(nodes))
	for _, n := range nodes {
		entry := LockedPackage{
			Name:    n.ID.Name(),
			Version: n.ID.Version(),
		}
		if n.ID.Source().Kind != SourceKindPath {
			entry.Source = n.ID.Source()
			if n.Summary != nil {
				entry.Checksum = n.Summary.Checksum
			}
		}
		for _, e := range n.Edges {
			entry.Dependencies = append(entry.Dependencies, e.To.Name())
		}
		packages = append(packages, entry)
	}
	return NewLockfile(packages)
}

// Sort puts entries and their dependency lists into canonical order.
func (l *Lockfile) Sort() {
	for i := range l.Packages {
		deps := slices.Clone(l.Packages[i].Dependencies)
		slices.Sort(deps)
		l.Packages[i].Dependencies = slices.Compact(deps)
	}
	slices.SortFunc(l.Packages, compareLocked)
}

// Find returns the entries locked for a name.
func (l *Lockfile) Find(name PackageName) []LockedPackage {
	if l == nil {
		return nil
	}
	var out []LockedPackage
	for _, p := range l.Packages {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Equal reports whether two lock documents hold the same entries.
func (l *Lockfile) Equal(other *Lockfile) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.Version != other.Version || len(l.Packages) != len(other.Packages) {
		return false
	}
	for i := range l.Packages {
		a, b := l.Packages[i], other.Packages[i]
		if a.Name != b.Name || a.Version != b.Version || a.Source != b.Source ||
			a.Checksum != b.Checksum || !slices.Equal(a.Dependencies, b.Dependencies) {
			return false
		}
	}
	return true
}

// LockMismatch explains why a locked entry was not reused.
type LockMismatch struct {
	Entry       LockedPackage
	Requirement DependencyRequirement
}

// Revalidate splits the lock into ids that are still usable and entries that
// contradict one of the given requirements. Names in unlock are dropped
// unconditionally; path entries are never reused.
func (l *Lockfile) Revalidate(
	requirements []DependencyRequirement,
	unlock map[PackageName]bool,
) (map[PackageName]PackageID, []LockMismatch) {
	kept := make(map[PackageName]PackageID)
	if l == nil {
		return kept, nil
	}

	var mismatches []LockMismatch
	ambiguous := make(map[PackageName]bool)
	for _, entry := range l.Packages {
		id, ok := entry.ID()
		if !ok || unlock[entry.Name] || ambiguous[entry.Name] {
			continue
		}
		if _, dup := kept[entry.Name]; dup {
			delete(kept, entry.Name)
			ambiguous[entry.Name] = true
			continue
		}

		valid := true
		for _, req := range requirements {
			if req.Name != entry.Name {
				continue
			}
			if !req.MatchesID(id) {
				mismatches = append(mismatches, LockMismatch{Entry: entry, Requirement: req})
				valid = false
				break
			}
		}
		if valid {
			kept[entry.Name] = id
		}
	}
	return kept, mismatches
}
