package annotation

import (
	"cmp"
	"iter"
	"math"
	"slices"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// SelectionIndex resolves pointer positions and drag rectangles to boxes
type SelectionIndex struct {
	// OverlapFraction is the share of a box that a drag rectangle must cover
	// for rubber-band selection. Zero selects on any non-zero overlap.
	OverlapFraction float64
	// StretchSensitivity scales the per-step edge movement of StretchAt.
	StretchSensitivity float64
}

// DefaultSelectionIndex uses any-overlap rubber-band selection and unit sensitivity
func DefaultSelectionIndex() SelectionIndex {
	return SelectionIndex{OverlapFraction: 0, StretchSensitivity: 1}
}

// pointOrder sorts candidates by smallest area, then most recently created
func pointOrder(a, b domain.BoundingBox) int {
	if c := cmp.Compare(a.Rect.Area(), b.Rect.Area()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.CreatedOrder, a.CreatedOrder); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// PointCandidates returns every active box containing the point, best match first
func (ix SelectionIndex) PointCandidates(boxes iter.Seq[domain.BoundingBox], x, y float64) []domain.BoundingBox {
	var ret []domain.BoundingBox
	for b := range boxes {
		if b.Tombstoned || !b.Rect.Contains(x, y) {
			continue
		}
		ret = append(ret, b)
	}
	slices.SortFunc(ret, pointOrder)
	return ret
}

// PointSelect returns the box under the point. A small box nested in a
// larger one wins, so it stays reachable.
func (ix SelectionIndex) PointSelect(boxes iter.Seq[domain.BoundingBox], x, y float64) (domain.BoundingBox, bool) {
	candidates := ix.PointCandidates(boxes, x, y)
	if len(candidates) == 0 {
		return domain.BoundingBox{}, false
	}
	return candidates[0], true
}

// RectSelect returns the active boxes overlapped by the drag rectangle, in creation order
func (ix SelectionIndex) RectSelect(boxes iter.Seq[domain.BoundingBox], drag geometry.Rect) []domain.BoundingBox {
	drag = drag.Normalize()
	var ret []domain.BoundingBox
	for b := range boxes {
		if b.Tombstoned || !b.Rect.Overlaps(drag) {
			continue
		}
		if ix.OverlapFraction > 0 && b.Rect.OverlapFraction(drag) < ix.OverlapFraction {
			continue
		}
		ret = append(ret, b)
	}
	slices.SortStableFunc(ret, func(a, b domain.BoundingBox) int {
		return cmp.Compare(a.CreatedOrder, b.CreatedOrder)
	})
	return ret
}

// StretchStep is the edge displacement for one stretch step of a box
func (ix SelectionIndex) StretchStep(r geometry.Rect, delta float64) float64 {
	sensitivity := ix.StretchSensitivity
	if sensitivity <= 0 {
		sensitivity = 1
	}
	return (r.Width() + r.Height()) * delta * sensitivity / 6
}

// Stretch moves the given edges of the box by one step. The middle region
// grows every side by half a step. A result without area keeps the old rect.
func (ix SelectionIndex) Stretch(r geometry.Rect, edges geometry.Edge, delta float64) geometry.Rect {
	step := ix.StretchStep(r, delta)
	var next geometry.Rect
	if edges == geometry.EdgeNone {
		if -step >= math.Min(r.Width(), r.Height()) {
			return r
		}
		next = r.Grow(step / 2)
	} else {
		next = r.MoveEdges(edges, step)
	}
	if !next.Valid() {
		return r
	}
	return next
}

// StretchAt stretches the edge or corner of the box nearest to the pointer
func (ix SelectionIndex) StretchAt(r geometry.Rect, x, y, delta float64) geometry.Rect {
	return ix.Stretch(r, r.Region(x, y), delta)
}
