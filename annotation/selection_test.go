package annotation

import (
	"math"
	"slices"
	"testing"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

func boxesOf(boxes ...domain.BoundingBox) func(func(domain.BoundingBox) bool) {
	return func(yield func(domain.BoundingBox) bool) {
		for _, b := range boxes {
			if !yield(b) {
				return
			}
		}
	}
}

func bb(id, order int, x0, y0, x1, y1 float64) domain.BoundingBox {
	return domain.BoundingBox{ID: id, CreatedOrder: order, Rect: geometry.Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}}
}

func TestSelectionIndex_PointSelect(t *testing.T) {
	ix := DefaultSelectionIndex()

	tests := []struct {
		name   string
		boxes  []domain.BoundingBox
		x, y   float64
		wantID int
		wantOK bool
	}{
		{
			name:   "nested smaller box wins",
			boxes:  []domain.BoundingBox{bb(1, 1, 0, 0, 1, 1), bb(2, 2, 0.2, 0.2, 0.4, 0.4)},
			x:      0.3,
			y:      0.3,
			wantID: 2,
			wantOK: true,
		},
		{
			name:   "nested smaller box wins even when older",
			boxes:  []domain.BoundingBox{bb(2, 1, 0.2, 0.2, 0.4, 0.4), bb(1, 2, 0, 0, 1, 1)},
			x:      0.3,
			y:      0.3,
			wantID: 2,
			wantOK: true,
		},
		{
			name:   "equal area picks the most recent",
			boxes:  []domain.BoundingBox{bb(1, 1, 0, 0, 0.5, 0.5), bb(2, 2, 0.1, 0.1, 0.6, 0.6)},
			x:      0.3,
			y:      0.3,
			wantID: 2,
			wantOK: true,
		},
		{
			name:   "outside every box",
			boxes:  []domain.BoundingBox{bb(1, 1, 0, 0, 0.5, 0.5)},
			x:      0.9,
			y:      0.9,
			wantOK: false,
		},
		{
			name:   "tombstones are ignored",
			boxes:  []domain.BoundingBox{bb(1, 1, 0, 0, 1, 1), {ID: 2, CreatedOrder: 2, Rect: geometry.Rect{X0: 0.2, Y0: 0.2, X1: 0.4, Y1: 0.4}, Tombstoned: true}},
			x:      0.3,
			y:      0.3,
			wantID: 1,
			wantOK: true,
		},
		{
			name:   "edges are inclusive",
			boxes:  []domain.BoundingBox{bb(1, 1, 0.2, 0.2, 0.4, 0.4)},
			x:      0.4,
			y:      0.2,
			wantID: 1,
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ix.PointSelect(boxesOf(tt.boxes...), tt.x, tt.y)
			if ok != tt.wantOK {
				t.Fatalf("PointSelect() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("PointSelect() = box %d, want box %d", got.ID, tt.wantID)
			}
		})
	}
}

func TestSelectionIndex_RectSelect(t *testing.T) {
	boxes := []domain.BoundingBox{
		bb(3, 3, 0.6, 0.6, 0.8, 0.8),
		bb(1, 1, 0, 0, 0.2, 0.2),
		bb(2, 2, 0.1, 0.1, 0.5, 0.5),
	}
	drag := geometry.Rect{X0: 0.15, Y0: 0.15, X1: 0.05, Y1: 0.05}

	ids := func(bs []domain.BoundingBox) []int {
		ret := []int{}
		for _, b := range bs {
			ret = append(ret, b.ID)
		}
		return ret
	}

	t.Run("any overlap in creation order", func(t *testing.T) {
		got := DefaultSelectionIndex().RectSelect(boxesOf(boxes...), drag)
		if !slices.Equal(ids(got), []int{1, 2}) {
			t.Errorf("RectSelect() = %v, want [1 2]", ids(got))
		}
	})

	t.Run("overlap fraction filters partial hits", func(t *testing.T) {
		ix := SelectionIndex{OverlapFraction: 0.2}
		got := ix.RectSelect(boxesOf(boxes...), drag)
		if !slices.Equal(ids(got), []int{1}) {
			t.Errorf("RectSelect() = %v, want [1]", ids(got))
		}
	})

	t.Run("touching edges do not count", func(t *testing.T) {
		got := DefaultSelectionIndex().RectSelect(boxesOf(boxes...), geometry.Rect{X0: 0.8, Y0: 0.8, X1: 0.9, Y1: 0.9})
		if len(got) != 0 {
			t.Errorf("RectSelect() = %v, want none", ids(got))
		}
	})
}

func TestSelectionIndex_Stretch(t *testing.T) {
	ix := DefaultSelectionIndex()
	r := geometry.Rect{X0: 0.3, Y0: 0.3, X1: 0.6, Y1: 0.6}
	step := ix.StretchStep(r, 1)
	if math.Abs(step-0.1) > 1e-9 {
		t.Fatalf("StretchStep() = %v, want 0.1", step)
	}

	near := func(a, b geometry.Rect) bool {
		const eps = 1e-9
		return math.Abs(a.X0-b.X0) < eps && math.Abs(a.Y0-b.Y0) < eps && math.Abs(a.X1-b.X1) < eps && math.Abs(a.Y1-b.Y1) < eps
	}

	tests := []struct {
		name  string
		x, y  float64
		delta float64
		want  geometry.Rect
	}{
		{"right edge", 0.59, 0.45, 1, geometry.Rect{X0: 0.3, Y0: 0.3, X1: 0.7, Y1: 0.6}},
		{"top-left corner", 0.31, 0.31, 1, geometry.Rect{X0: 0.2, Y0: 0.2, X1: 0.6, Y1: 0.6}},
		{"middle grows every side", 0.45, 0.45, 1, geometry.Rect{X0: 0.25, Y0: 0.25, X1: 0.65, Y1: 0.65}},
		{"negative delta shrinks", 0.59, 0.45, -1, geometry.Rect{X0: 0.3, Y0: 0.3, X1: 0.5, Y1: 0.6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.StretchAt(r, tt.x, tt.y, tt.delta)
			if !near(got, tt.want) {
				t.Errorf("StretchAt() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("clamped to the image", func(t *testing.T) {
		edge := geometry.Rect{X0: 0.5, Y0: 0.5, X1: 1, Y1: 1}
		got := ix.Stretch(edge, geometry.EdgeRight|geometry.EdgeBottom, 1)
		if got.X1 != 1 || got.Y1 != 1 {
			t.Errorf("Stretch() = %v, want clamped to 1", got)
		}
	})

	t.Run("collapse keeps the previous rect", func(t *testing.T) {
		got := ix.Stretch(r, geometry.EdgeNone, -100)
		if got != r {
			t.Errorf("Stretch() = %v, want %v", got, r)
		}
	})
}
