package domain_test

import (
	"encoding/json"
	"testing"

	"go.trai.ch/keel/internal/core/domain"
)

func TestInternedString(t *testing.T) {
	is1 := domain.NewInternedString("util 1.0.0 lib:util")
	is2 := domain.NewInternedString("util 1.0.0 lib:util")

	if is1 != is2 {
		t.Errorf("expected interned values to be equal, got %v and %v", is1, is2)
	}
	if is1.String() != "util 1.0.0 lib:util" {
		t.Errorf("unexpected String(): %q", is1.String())
	}
	if is1.Compare(is2) != 0 {
		t.Errorf("expected Compare to return 0 for equal values")
	}
}

func TestInternedString_Compare(t *testing.T) {
	a := domain.NewInternedString("a")
	b := domain.NewInternedString("b")

	if a.Compare(b) >= 0 {
		t.Errorf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Errorf("expected b > a")
	}
}

func TestInternedString_ZeroValue(t *testing.T) {
	var is domain.InternedString
	if is.String() != "" {
		t.Errorf("expected empty string for zero value, got %q", is.String())
	}
}

func TestInternedStringJSON(t *testing.T) {
	original := domain.NewInternedString("app 0.1.0 bin:app")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal InternedString: %v", err)
	}
	if string(data) != `"app 0.1.0 bin:app"` {
		t.Errorf("unexpected JSON %s", data)
	}

	var decoded domain.InternedString
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal InternedString: %v", err)
	}
	if decoded != original {
		t.Errorf("expected %q after round trip, got %q", original, decoded)
	}
}
