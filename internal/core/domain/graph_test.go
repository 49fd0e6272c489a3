package domain_test

import (
	"testing"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/zerr"
)

func testUnit(name string, deps ...*domain.CompilationUnit) *domain.CompilationUnit {
	id := domain.NewPackageID(domain.PackageName(name), domain.MustParseVersion("1.0.0"), domain.NewPathSource("/ws/"+name))
	target := domain.Target{Kind: domain.TargetKindLib, Name: name, Entry: domain.DefaultLibEntry}
	return &domain.CompilationUnit{
		ID:           domain.NewUnitID(id, target),
		Package:      domain.NewPackage(id, &domain.Manifest{}, "/ws/"+name+"/"+domain.ManifestFileName),
		Target:       target,
		Dependencies: deps,
	}
}

func TestBuildPlan_AddUnit(t *testing.T) {
	p := domain.NewBuildPlan()
	u := testUnit("core")

	if err := p.AddUnit(u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := p.AddUnit(u)
	if err == nil {
		t.Fatal("expected error when adding duplicate unit, got nil")
	}
	zErr, ok := err.(*zerr.Error)
	if !ok {
		t.Fatalf("expected *zerr.Error, got %T", err)
	}
	if unit, ok := zErr.Metadata()["unit"].(string); !ok || unit != u.ID.String() {
		t.Errorf("expected metadata unit=%s, got %v", u.ID, zErr.Metadata()["unit"])
	}
}

func TestBuildPlan_Validate_Cycle(t *testing.T) {
	a := testUnit("a")
	b := testUnit("b", a)
	a.Dependencies = []*domain.CompilationUnit{b}

	p := domain.NewBuildPlan()
	if err := p.AddUnit(a); err != nil {
		t.Fatalf("failed to add unit a: %v", err)
	}
	if err := p.AddUnit(b); err != nil {
		t.Fatalf("failed to add unit b: %v", err)
	}

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error for cycle, got nil")
	}
	zErr, ok := err.(*zerr.Error)
	if !ok {
		t.Fatalf("expected *zerr.Error, got %T", err)
	}
	if cycle, ok := zErr.Metadata()["cycle"].(string); !ok || cycle == "" {
		t.Errorf("expected metadata cycle to be non-empty string, got %v", zErr.Metadata()["cycle"])
	}
}

func TestBuildPlan_Validate_MissingUnit(t *testing.T) {
	orphan := testUnit("orphan")
	p := domain.NewBuildPlan()
	if err := p.AddUnit(testUnit("app", orphan)); err != nil {
		t.Fatalf("failed to add unit: %v", err)
	}

	if err := p.Validate(); err == nil {
		t.Fatal("expected error for dangling dependency, got nil")
	}
}

func TestBuildPlan_Walk(t *testing.T) {
	// app -> mid -> core, app -> core
	core := testUnit("core")
	mid := testUnit("mid", core)
	app := testUnit("app", mid, core)

	p := domain.NewBuildPlan()
	for _, u := range []*domain.CompilationUnit{app, core, mid} {
		if err := p.AddUnit(u); err != nil {
			t.Fatalf("failed to add unit: %v", err)
		}
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}

	var order []string
	for u := range p.Walk() {
		order = append(order, u.Package.Name().String())
	}
	expected := []string{"core", "mid", "app"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d units, got %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], order[i])
		}
	}

	dependents := p.Dependents(core.ID)
	if len(dependents) != 2 {
		t.Errorf("expected core to have 2 dependents, got %d", len(dependents))
	}
}

func TestBuildPlan_Walk_Deterministic(t *testing.T) {
	units := []*domain.CompilationUnit{testUnit("zeta"), testUnit("alpha"), testUnit("mu")}

	var first []string
	for run := 0; run < 5; run++ {
		p := domain.NewBuildPlan()
		for _, u := range units {
			if err := p.AddUnit(u); err != nil {
				t.Fatalf("failed to add unit: %v", err)
			}
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected validate error: %v", err)
		}

		var order []string
		for _, u := range p.Units() {
			order = append(order, u.ID.String())
		}
		if run == 0 {
			first = order
			continue
		}
		for i := range first {
			if first[i] != order[i] {
				t.Fatalf("run %d produced a different order: %v vs %v", run, order, first)
			}
		}
	}
	if first[0] != "alpha 1.0.0 lib:alpha" {
		t.Errorf("expected independent units ordered by id, got %v", first)
	}
}
