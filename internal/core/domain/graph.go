// Package domain contains the core models of keel: package identity, manifests,
// resolved graphs, lock documents and compilation plans.
package domain

import (
	"iter"
	"slices"
	"strings"

	"go.trai.ch/zerr"
)

// CompilationUnit is one (package, target) pair to compile, together with the
// library units it must see compiled first.
type CompilationUnit struct {
	ID           InternedString
	Package      *Package
	Target       Target
	Dependencies []*CompilationUnit
}

// NewUnitID returns the identifier of the unit compiling target of pkg.
func NewUnitID(pkg PackageID, target Target) InternedString {
	return NewInternedString(pkg.Name().String() + " " + pkg.Version().String() + " " + target.String())
}

// DependencyIDs returns the ids of the units this unit depends on.
func (u *CompilationUnit) DependencyIDs() []InternedString {
	ids := make([]InternedString, len(u.Dependencies))
	for i, d := range u.Dependencies {
		ids[i] = d.ID
	}
	return ids
}

// BuildPlan is the DAG of compilation units produced by the planner.
type BuildPlan struct {
	units          map[InternedString]*CompilationUnit
	dependents     map[InternedString][]InternedString
	executionOrder []InternedString
}

// NewBuildPlan creates an empty plan.
func NewBuildPlan() *BuildPlan {
	return &BuildPlan{
		units:      make(map[InternedString]*CompilationUnit),
		dependents: make(map[InternedString][]InternedString),
	}
}

// AddUnit adds a unit to the plan.
// It returns an error if a unit with the same id already exists.
func (p *BuildPlan) AddUnit(u *CompilationUnit) error {
	if _, exists := p.units[u.ID]; exists {
		return zerr.With(ErrDuplicateUnit, "unit", u.ID.String())
	}
	p.units[u.ID] = u
	return nil
}

// Unit returns the unit with the given id.
func (p *BuildPlan) Unit(id InternedString) (*CompilationUnit, bool) {
	u, ok := p.units[id]
	return u, ok
}

// Len returns the number of units.
func (p *BuildPlan) Len() int {
	return len(p.units)
}

// Validate checks for cycles and dangling dependencies using a topological sort.
// It populates the execution order and the reverse edges if successful.
// Units are visited in id order so the resulting order is deterministic.
func (p *BuildPlan) Validate() error {
	ids := make([]InternedString, 0, len(p.units))
	for id := range p.units {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, InternedString.Compare)

	p.executionOrder = make([]InternedString, 0, len(p.units))
	p.dependents = make(map[InternedString][]InternedString, len(p.units))
	visited := make(map[InternedString]int) // 0: unvisited, 1: visiting, 2: visited
	var path []InternedString

	var visit func(id InternedString) error
	visit = func(id InternedString) error {
		visited[id] = 1
		path = append(path, id)

		unit, exists := p.units[id]
		if !exists {
			return zerr.With(ErrMissingUnit, "unit", id.String())
		}

		deps := unit.DependencyIDs()
		slices.SortFunc(deps, InternedString.Compare)
		for _, dep := range deps {
			if visited[dep] == 1 {
				return buildCycleError(path, dep)
			}
			if visited[dep] == 0 {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visited[id] = 2
		path = path[:len(path)-1]
		p.executionOrder = append(p.executionOrder, id)
		return nil
	}

	for _, id := range ids {
		if visited[id] == 0 {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	for _, id := range p.executionOrder {
		for _, dep := range p.units[id].DependencyIDs() {
			p.dependents[dep] = append(p.dependents[dep], id)
		}
	}
	return nil
}

// buildCycleError constructs an error with cycle path metadata.
func buildCycleError(path []InternedString, dep InternedString) error {
	var b strings.Builder
	start := slices.Index(path, dep)
	for _, node := range path[start:] {
		b.WriteString(node.String())
		b.WriteString(" -> ")
	}
	b.WriteString(dep.String())
	return zerr.With(ErrCycleDetected, "cycle", b.String())
}

// Walk returns an iterator that yields units in execution order.
// It assumes Validate() has been called and returned nil.
func (p *BuildPlan) Walk() iter.Seq[*CompilationUnit] {
	return func(yield func(*CompilationUnit) bool) {
		for _, id := range p.executionOrder {
			if !yield(p.units[id]) {
				return
			}
		}
	}
}

// Units returns the units in execution order.
func (p *BuildPlan) Units() []*CompilationUnit {
	return slices.Collect(p.Walk())
}

// Dependents returns the units that directly depend on id.
func (p *BuildPlan) Dependents(id InternedString) []InternedString {
	return p.dependents[id]
}
