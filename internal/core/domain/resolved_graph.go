package domain

import (
	"cmp"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// Edge is a dependency edge of a resolved package. It records the requirement it satisfies.
type Edge struct {
	To          PackageID
	Requirement DependencyRequirement
}

// ResolvedNode is a package chosen by resolution together with its outgoing edges.
type ResolvedNode struct {
	ID      PackageID
	Summary *Summary
	Edges   []Edge
}

// ResolvedGraph maps every chosen package to the packages it depends on.
type ResolvedGraph struct {
	Roots []PackageID
	nodes map[PackageID]*ResolvedNode
}

// NewResolvedGraph creates an empty graph with the given roots.
func NewResolvedGraph(roots []PackageID) *ResolvedGraph {
	return &ResolvedGraph{
		Roots: slices.Clone(roots),
		nodes: make(map[PackageID]*ResolvedNode),
	}
}

// AddNode inserts a node for the summary. Adding the same id twice keeps the first node.
func (g *ResolvedGraph) AddNode(summary *Summary) *ResolvedNode {
	if n, ok := g.nodes[summary.ID]; ok {
		return n
	}
	n := &ResolvedNode{ID: summary.ID, Summary: summary}
	g.nodes[summary.ID] = n
	return n
}

// AddEdge records that from depends on to through req.
func (g *ResolvedGraph) AddEdge(from, to PackageID, req DependencyRequirement) error {
	n, ok := g.nodes[from]
	if !ok {
		return zerr.With(ErrInvalidGraph, "package", from.String())
	}
	n.Edges = append(n.Edges, Edge{To: to, Requirement: req})
	slices.SortFunc(n.Edges, func(a, b Edge) int {
		return a.To.Compare(b.To)
	})
	return nil
}

// Node returns the node for id.
func (g *ResolvedGraph) Node(id PackageID) (*ResolvedNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *ResolvedGraph) Len() int {
	return len(g.nodes)
}

// Sorted returns every node ordered by package id.
func (g *ResolvedGraph) Sorted() []*ResolvedNode {
	out := make([]*ResolvedNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *ResolvedNode) int {
		return a.ID.Compare(b.ID)
	})
	return out
}

// Dependencies returns the direct dependencies of id ordered by package id.
func (g *ResolvedGraph) Dependencies(id PackageID) []PackageID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	out := make([]PackageID, len(n.Edges))
	for i, e := range n.Edges {
		out[i] = e.To
	}
	return out
}

// Lookup returns the ids chosen for a package name.
func (g *ResolvedGraph) Lookup(name PackageName) []PackageID {
	var out []PackageID
	for id := range g.nodes {
		if id.Name() == name {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, PackageID.Compare)
	return out
}

// TransitiveDependencies returns every package reachable from id, excluding id itself.
func (g *ResolvedGraph) TransitiveDependencies(id PackageID) []PackageID {
	seen := map[PackageID]bool{id: true}
	queue := []PackageID{id}
	var out []PackageID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.Dependencies(cur) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	slices.SortFunc(out, PackageID.Compare)
	return out
}

// TopologicalOrder returns ids with dependencies before dependents. Ties are broken by id.
func (g *ResolvedGraph) TopologicalOrder() ([]PackageID, error) {
	sorted := g.Sorted()
	order := make([]PackageID, 0, len(sorted))
	state := make(map[PackageID]int, len(sorted)) // 0: unvisited, 1: visiting, 2: done
	var path []PackageID

	var visit func(id PackageID) error
	visit = func(id PackageID) error {
		state[id] = 1
		path = append(path, id)
		for _, dep := range g.Dependencies(id) {
			switch state[dep] {
			case 1:
				return cycleError(path, dep)
			case 0:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		path = path[:len(path)-1]
		order = append(order, id)
		return nil
	}

	for _, n := range sorted {
		if state[n.ID] == 0 {
			if err := visit(n.ID); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func cycleError(path []PackageID, back PackageID) error {
	start := slices.Index(path, back)
	names := make([]string, 0, len(path)-start+1)
	for _, id := range path[start:] {
		names = append(names, id.Name().String())
	}
	names = append(names, back.Name().String())
	return zerr.With(ErrDependencyCycle, "cycle", strings.Join(names, " -> "))
}

// Validate checks that the graph is acyclic, that every root and edge target is a node,
// that every edge target satisfies its requirement and that every node is reachable.
func (g *ResolvedGraph) Validate() error {
	for _, root := range g.Roots {
		if _, ok := g.nodes[root]; !ok {
			return zerr.With(zerr.With(ErrInvalidGraph, "reason", "root missing"), "package", root.String())
		}
	}

	for _, n := range g.Sorted() {
		for _, e := range n.Edges {
			if _, ok := g.nodes[e.To]; !ok {
				err := zerr.With(ErrInvalidGraph, "reason", "edge target missing")
				return zerr.With(err, "package", e.To.String())
			}
			if !e.Requirement.Req.Matches(e.To.Version()) {
				err := zerr.With(ErrInvalidGraph, "reason", "edge does not satisfy requirement")
				err = zerr.With(err, "package", n.ID.String())
				return zerr.With(err, "requirement", e.Requirement.String())
			}
		}
	}

	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}

	reachable := make(map[PackageID]bool, len(g.nodes))
	for _, root := range g.Roots {
		reachable[root] = true
		for _, id := range g.TransitiveDependencies(root) {
			reachable[id] = true
		}
	}
	for _, n := range g.Sorted() {
		if !reachable[n.ID] {
			err := zerr.With(ErrInvalidGraph, "reason", "node unreachable from roots")
			return zerr.With(err, "package", n.ID.String())
		}
	}
	return nil
}

// SortedNames returns the distinct names in the graph in order.
func (g *ResolvedGraph) SortedNames() []PackageName {
	names := make([]PackageName, 0, len(g.nodes))
	for id := range g.nodes {
		names = append(names, id.Name())
	}
	slices.SortFunc(names, cmp.Compare[PackageName])
	return slices.Compact(names)
}
