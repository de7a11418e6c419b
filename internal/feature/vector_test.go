package feature

import (
	"errors"
	"math"
	"testing"
)

func TestValidate_RejectsWrongLength(t *testing.T) {
	err := Vector{1, 2, 3}.Validate()
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := make(Vector, D+1).Validate(); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for long vector, got %v", err)
	}
}

func TestValidate_RejectsNaN(t *testing.T) {
	v := make(Vector, D)
	v[3] = math.NaN()
	err := v.Validate()
	if err == nil {
		t.Fatalf("expected error for NaN component")
	}
	if errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("NaN must not be reported as dimension mismatch")
	}
}

func TestSquaredDistance(t *testing.T) {
	a := Vector{0, 0, 0, 0, 0, 0, 0, 0}
	b := Vector{1, 2, 0, 0, 0, 0, 0, 2}
	d, err := a.SquaredDistance(b)
	if err != nil {
		t.Fatalf("SquaredDistance: %v", err)
	}
	if d != 9 {
		t.Fatalf("expected 9, got %v", d)
	}
	if _, err := a.SquaredDistance(Vector{1}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestParse_RoundTripsString(t *testing.T) {
	v := Vector{0.5, -1, 2.25, 0, 1e-3, 3, 4, 5}
	got, err := Parse(v.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != len(v) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("component %d: got %v want %v", i, got[i], v[i])
		}
	}
}

func TestParse_AcceptsWhitespace(t *testing.T) {
	got, err := Parse(" 1 2,3\t4, 5 6 7 8\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got[7] != 8 {
		t.Fatalf("unexpected last component: %v", got[7])
	}
}

func TestParse_RejectsGarbage(t *testing.T) {
	if _, err := Parse("1,2,x"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Parse("  "); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestClone_DoesNotAlias(t *testing.T) {
	v := Vector{1, 2, 3, 4, 5, 6, 7, 8}
	c := v.Clone()
	c[0] = 42
	if v[0] != 1 {
		t.Fatalf("clone aliases original")
	}
}
