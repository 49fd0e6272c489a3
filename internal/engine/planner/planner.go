// Package planner turns a resolved package graph into a plan of compilation units.
package planner

import (
	"slices"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

// Selection chooses which targets of which workspace members are built.
type Selection struct {
	// Kinds lists the target kinds to build. Empty means lib and bin.
	Kinds []domain.TargetKind
	// Packages lists member names. Empty means every member.
	Packages []domain.PackageName
}

// Target selection presets.
var (
	SelectAll = Selection{Kinds: []domain.TargetKind{
		domain.TargetKindLib, domain.TargetKindBin, domain.TargetKindTest, domain.TargetKindBench,
	}}
	SelectLib   = Selection{Kinds: []domain.TargetKind{domain.TargetKindLib}}
	SelectBins  = Selection{Kinds: []domain.TargetKind{domain.TargetKindBin}}
	SelectTests = Selection{Kinds: []domain.TargetKind{domain.TargetKindTest}}
)

// ForPackages returns a copy of s restricted to the named members.
func (s Selection) ForPackages(names ...domain.PackageName) Selection {
	s.Packages = slices.Clone(names)
	return s
}

func (s Selection) kinds() []domain.TargetKind {
	if len(s.Kinds) == 0 {
		return []domain.TargetKind{domain.TargetKindLib, domain.TargetKindBin}
	}
	return s.Kinds
}

type planner struct {
	graph    *domain.ResolvedGraph
	packages map[domain.PackageID]*domain.Package
	plan     *domain.BuildPlan
	libs     map[domain.PackageID]*domain.CompilationUnit
	visiting map[domain.PackageID]bool
}

// Plan builds the compilation units for sel over graph. packages must hold the
// materialized package of every node in graph.
// Every package reachable from a selected member contributes its lib unit; each unit
// depends on the lib units of its package's transitive dependencies.
func Plan(
	graph *domain.ResolvedGraph,
	packages map[domain.PackageID]*domain.Package,
	sel Selection,
) (*domain.BuildPlan, error) {
	members, err := selectMembers(graph, sel)
	if err != nil {
		return nil, err
	}

	p := &planner{
		graph:    graph,
		packages: packages,
		plan:     domain.NewBuildPlan(),
		libs:     make(map[domain.PackageID]*domain.CompilationUnit),
		visiting: make(map[domain.PackageID]bool),
	}

	kinds := sel.kinds()
	for _, id := range members {
		pkg, err := p.pkg(id)
		if err != nil {
			return nil, err
		}
		for _, target := range pkg.Manifest().Targets {
			if !slices.Contains(kinds, target.Kind) {
				continue
			}
			if target.Kind == domain.TargetKindLib {
				if _, err := p.libUnit(id); err != nil {
					return nil, err
				}
				continue
			}
			if err := p.addUnit(pkg, target); err != nil {
				return nil, err
			}
		}
	}

	if p.plan.Len() == 0 {
		return nil, domain.ErrNoUnitsSelected
	}
	if err := p.plan.Validate(); err != nil {
		return nil, err
	}
	return p.plan, nil
}

func selectMembers(graph *domain.ResolvedGraph, sel Selection) ([]domain.PackageID, error) {
	if len(sel.Packages) == 0 {
		return graph.Roots, nil
	}

	out := make([]domain.PackageID, 0, len(sel.Packages))
	for _, name := range sel.Packages {
		i := slices.IndexFunc(graph.Roots, func(id domain.PackageID) bool {
			return id.Name() == name
		})
		if i < 0 {
			return nil, zerr.With(domain.ErrUnknownPackage, "package", name.String())
		}
		if !slices.Contains(out, graph.Roots[i]) {
			out = append(out, graph.Roots[i])
		}
	}
	return out, nil
}

func (p *planner) pkg(id domain.PackageID) (*domain.Package, error) {
	pkg, ok := p.packages[id]
	if !ok {
		return nil, zerr.With(zerr.With(domain.ErrMissingUnit, "reason", "package not materialized"), "package", id.String())
	}
	return pkg, nil
}

// libUnit returns the lib unit of id, planning it and its dependencies on first use.
func (p *planner) libUnit(id domain.PackageID) (*domain.CompilationUnit, error) {
	if u, ok := p.libs[id]; ok {
		return u, nil
	}
	if p.visiting[id] {
		return nil, zerr.With(domain.ErrCycleDetected, "package", id.String())
	}
	p.visiting[id] = true
	defer delete(p.visiting, id)

	pkg, err := p.pkg(id)
	if err != nil {
		return nil, err
	}
	target, ok := pkg.Manifest().Target(domain.TargetKindLib)
	if !ok {
		return nil, zerr.With(domain.ErrMissingTarget, "package", id.String())
	}

	deps, err := p.dependencyLibs(id)
	if err != nil {
		return nil, err
	}
	u := &domain.CompilationUnit{
		ID:           domain.NewUnitID(id, target),
		Package:      pkg,
		Target:       target,
		Dependencies: deps,
	}
	if err := p.plan.AddUnit(u); err != nil {
		return nil, err
	}
	p.libs[id] = u
	return u, nil
}

// addUnit plans a non-lib target. It also depends on its own package's lib, when there is one.
func (p *planner) addUnit(pkg *domain.Package, target domain.Target) error {
	deps, err := p.dependencyLibs(pkg.ID())
	if err != nil {
		return err
	}
	if _, ok := pkg.Manifest().Target(domain.TargetKindLib); ok {
		own, err := p.libUnit(pkg.ID())
		if err != nil {
			return err
		}
		deps = append([]*domain.CompilationUnit{own}, deps...)
	}

	return p.plan.AddUnit(&domain.CompilationUnit{
		ID:           domain.NewUnitID(pkg.ID(), target),
		Package:      pkg,
		Target:       target,
		Dependencies: deps,
	})
}

func (p *planner) dependencyLibs(id domain.PackageID) ([]*domain.CompilationUnit, error) {
	closure := p.graph.TransitiveDependencies(id)
	deps := make([]*domain.CompilationUnit, 0, len(closure))
	for _, dep := range closure {
		u, err := p.libUnit(dep)
		if err != nil {
			return nil, err
		}
		deps = append(deps, u)
	}
	return deps, nil
}
