package domain

// Workspace is the set of member packages resolved together with one shared lock.
// A single package outside any workspace is a workspace of one.
type Workspace struct {
	Root         string
	ManifestPath string
	Members      []*Package
}

// Member returns the member with the given name.
func (w *Workspace) Member(name PackageName) (*Package, bool) {
	for _, m := range w.Members {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// IsMember reports whether id is a workspace member.
func (w *Workspace) IsMember(id PackageID) bool {
	for _, m := range w.Members {
		if m.ID() == id {
			return true
		}
	}
	return false
}

// MemberIDs returns the member ids in declaration order.
func (w *Workspace) MemberIDs() []PackageID {
	ids := make([]PackageID, len(w.Members))
	for i, m := range w.Members {
		ids[i] = m.ID()
	}
	return ids
}

// Summaries returns a summary per member.
func (w *Workspace) Summaries() []*Summary {
	out := make([]*Summary, len(w.Members))
	for i, m := range w.Members {
		out[i] = SummaryFromPackage(m, "")
	}
	return out
}
