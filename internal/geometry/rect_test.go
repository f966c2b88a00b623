package geometry

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func rectAlmostEqual(a, b Rect) bool {
	return almostEqual(a.X0, b.X0) && almostEqual(a.Y0, b.Y0) && almostEqual(a.X1, b.X1) && almostEqual(a.Y1, b.Y1)
}

func TestNew(t *testing.T) {
	t.Run("normalizes swapped endpoints", func(t *testing.T) {
		r, err := New(0.8, 0.9, 0.2, 0.1)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		want := Rect{X0: 0.2, Y0: 0.1, X1: 0.8, Y1: 0.9}
		if r != want {
			t.Errorf("New() = %v, want %v", r, want)
		}
	})

	t.Run("clamps to the unit square", func(t *testing.T) {
		r, err := New(-0.5, 0.5, 1.5, 2)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		want := Rect{X0: 0, Y0: 0.5, X1: 1, Y1: 1}
		if r != want {
			t.Errorf("New() = %v, want %v", r, want)
		}
	})

	t.Run("rejects zero area", func(t *testing.T) {
		_, err := New(0.3, 0.3, 0.3, 0.9)
		if !errors.Is(err, ErrDegenerate) {
			t.Errorf("New() error = %v, want ErrDegenerate", err)
		}
	})

	t.Run("rejects rect fully outside the image", func(t *testing.T) {
		_, err := New(1.2, 1.2, 1.5, 1.5)
		if !errors.Is(err, ErrDegenerate) {
			t.Errorf("New() error = %v, want ErrDegenerate", err)
		}
	})
}

func TestRect_ContainsAndArea(t *testing.T) {
	r := Rect{X0: 0, Y0: 0, X1: 10, Y1: 10}

	if !r.Contains(3, 3) {
		t.Error("expected (3,3) inside")
	}
	if !r.Contains(10, 0) {
		t.Error("expected edges to be inclusive")
	}
	if r.Contains(10.1, 5) {
		t.Error("expected (10.1,5) outside")
	}
	if got := r.Area(); got != 100 {
		t.Errorf("Area() = %v, want 100", got)
	}
	if got := (Rect{X0: 1, Y0: 1, X1: 1, Y1: 5}).Area(); got != 0 {
		t.Errorf("Area() of degenerate = %v, want 0", got)
	}
}

func TestRect_Overlap(t *testing.T) {
	a := Rect{X0: 0, Y0: 0, X1: 0.5, Y1: 0.5}
	b := Rect{X0: 0.25, Y0: 0.25, X1: 1, Y1: 1}
	c := Rect{X0: 0.5, Y0: 0, X1: 1, Y1: 0.5}

	if !a.Overlaps(b) {
		t.Error("expected a and b to overlap")
	}
	if a.Overlaps(c) {
		t.Error("touching rectangles must not overlap")
	}
	if got := a.OverlapFraction(b); !almostEqual(got, 0.25) {
		t.Errorf("OverlapFraction() = %v, want 0.25", got)
	}
}

func TestRect_MoveEdges(t *testing.T) {
	r := Rect{X0: 0.2, Y0: 0.2, X1: 0.4, Y1: 0.4}

	t.Run("moves right edge outwards", func(t *testing.T) {
		got := r.MoveEdges(EdgeRight, 0.1)
		want := Rect{X0: 0.2, Y0: 0.2, X1: 0.5, Y1: 0.4}
		if !rectAlmostEqual(got, want) {
			t.Errorf("MoveEdges() = %v, want %v", got, want)
		}
	})

	t.Run("moves a corner", func(t *testing.T) {
		got := r.MoveEdges(EdgeTop|EdgeLeft, 0.1)
		want := Rect{X0: 0.1, Y0: 0.1, X1: 0.4, Y1: 0.4}
		if !rectAlmostEqual(got, want) {
			t.Errorf("MoveEdges() = %v, want %v", got, want)
		}
	})

	t.Run("swaps edges pushed past the opposite one", func(t *testing.T) {
		got := r.MoveEdges(EdgeRight, -0.3)
		want := Rect{X0: 0.1, Y0: 0.2, X1: 0.2, Y1: 0.4}
		if !rectAlmostEqual(got, want) {
			t.Errorf("MoveEdges() = %v, want %v", got, want)
		}
		if !got.Valid() {
			t.Error("expected a valid rect after swapping")
		}
	})
}

func TestRect_Region(t *testing.T) {
	r := Rect{X0: 0, Y0: 0, X1: 0.9, Y1: 0.9}
	cases := []struct {
		x, y float64
		want Edge
	}{
		{0.1, 0.1, EdgeTop | EdgeLeft},
		{0.45, 0.1, EdgeTop},
		{0.8, 0.45, EdgeRight},
		{0.45, 0.45, EdgeNone},
		{0.45, 0.85, EdgeBottom},
		{2, 2, EdgeBottom | EdgeRight},
	}
	for _, c := range cases {
		if got := r.Region(c.x, c.y); got != c.want {
			t.Errorf("Region(%v,%v) = %v, want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestRect_Translate(t *testing.T) {
	r := Rect{X0: 0.7, Y0: 0.1, X1: 0.9, Y1: 0.3}
	got := r.Translate(0.5, -0.5)
	want := Rect{X0: 0.8, Y0: 0, X1: 1, Y1: 0.2}
	if !rectAlmostEqual(got, want) {
		t.Errorf("Translate() = %v, want %v", got, want)
	}
}

func TestPixels(t *testing.T) {
	r := Rect{X0: 0.25, Y0: 0.5, X1: 0.75, Y1: 1}
	p := r.ToPixels(640, 480)
	want := PixelRect{X0: 160, Y0: 240, X1: 480, Y1: 480}
	if p != want {
		t.Errorf("ToPixels() = %v, want %v", p, want)
	}

	back, err := FromPixels(p, 640, 480)
	if err != nil {
		t.Fatalf("FromPixels() error = %v", err)
	}
	if !rectAlmostEqual(back, r) {
		t.Errorf("FromPixels() = %v, want %v", back, r)
	}

	if _, err := FromPixels(p, 0, 480); err == nil {
		t.Error("expected error for zero width")
	}
}
