package pose

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/kamusis/posematch/internal/feature"
)

func vec(first float64) feature.Vector {
	v := make(feature.Vector, feature.D)
	v[0] = first
	return v
}

func TestIndex_AddAssignsDenseLabels(t *testing.T) {
	x := NewIndex()
	for i := 0; i < 3; i++ {
		label, err := x.Add("p", vec(float64(i)), ImageRef{}, Transform{Scale: 1})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if label != i+1 {
			t.Fatalf("expected label %d, got %d", i+1, label)
		}
	}
	e, ok := x.Get(2)
	if !ok || e.Features[0] != 1 {
		t.Fatalf("Get(2) returned %+v, %v", e, ok)
	}
	if _, ok := x.Get(0); ok {
		t.Fatalf("Get(0) must miss")
	}
	if _, ok := x.Get(4); ok {
		t.Fatalf("Get(4) must miss")
	}
	if x.NextLabel() != 4 {
		t.Fatalf("unexpected next label %d", x.NextLabel())
	}
}

func TestIndex_AddRejectsWrongDimension(t *testing.T) {
	x := NewIndex()
	_, err := x.Add("bad", feature.Vector{1, 2}, ImageRef{}, Transform{})
	if !errors.Is(err, feature.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if x.Len() != 0 {
		t.Fatalf("rejected entry was stored")
	}
}

func TestRestore_RejectsGaps(t *testing.T) {
	_, err := Restore([]Entry{
		{Label: 1, Features: vec(0)},
		{Label: 3, Features: vec(1)},
	})
	if err == nil {
		t.Fatalf("expected error for label gap")
	}
}

func TestRestore_RejectsMixedDimensions(t *testing.T) {
	_, err := Restore([]Entry{
		{Label: 1, Features: vec(0)},
		{Label: 2, Features: feature.Vector{1, 2, 3}},
	})
	if !errors.Is(err, feature.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestWithAppended_LeavesSourceUnchanged(t *testing.T) {
	x := NewIndex()
	if _, err := x.Add("a", vec(1), ImageRef{}, Transform{}); err != nil {
		t.Fatal(err)
	}
	y, label, err := x.WithAppended("b", vec(2), ImageRef{Path: "b.png"}, Transform{Scale: 2})
	if err != nil {
		t.Fatalf("WithAppended: %v", err)
	}
	if label != 2 || y.Len() != 2 {
		t.Fatalf("unexpected label=%d len=%d", label, y.Len())
	}
	if x.Len() != 1 {
		t.Fatalf("source index grew to %d", x.Len())
	}
	y.Entries()[0].Features[0] = 99
	if e, _ := x.Get(1); e.Features[0] != 1 {
		t.Fatalf("appended index aliases source vectors")
	}
}

func TestPlacement_CentersScaledImage(t *testing.T) {
	tr := Transform{Scale: 1}
	r := tr.Placement(800, 400, 1800, 900)
	if r.W != 900 || r.H != 450 {
		t.Fatalf("unexpected size %dx%d", r.W, r.H)
	}
	if r.X != 450 || r.Y != 225 {
		t.Fatalf("unexpected origin %d,%d", r.X, r.Y)
	}
}

func TestImages_DecodeCachesPNG(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "smile.png")
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		t.Fatal(err)
	}
	_ = f.Close()

	x := NewIndex()
	if _, err := x.Add("smile", vec(0), ImageRef{Path: p}, Transform{Scale: 1}); err != nil {
		t.Fatal(err)
	}
	arena := NewImages(x)
	got, err := arena.Decode(1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Bounds().Dx() != 4 || got.Bounds().Dy() != 3 {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}
	// Removing the file must not matter once decoded.
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if _, err := arena.Decode(1); err != nil {
		t.Fatalf("cached Decode: %v", err)
	}
	if _, err := arena.Decode(2); err == nil {
		t.Fatalf("expected error for unknown label")
	}
}
