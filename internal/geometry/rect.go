// Package geometry holds the rectangle math used by the annotation scene.
//
// Rectangles live in image-normalized space: (0,0) is the top-left corner of
// the image and (1,1) the bottom-right one. Pixel conversions take the image
// dimensions explicitly.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerate is returned when a rectangle has no area after normalization.
var ErrDegenerate = errors.New("degenerate rectangle")

// Rect is an axis-aligned rectangle. Valid rectangles satisfy X0 < X1 and Y0 < Y1.
type Rect struct {
	X0 float64
	Y0 float64
	X1 float64
	Y1 float64
}

// PixelRect is a rectangle in absolute pixel coordinates.
type PixelRect struct {
	X0 int
	Y0 int
	X1 int
	Y1 int
}

// New builds a rectangle from two arbitrary drag endpoints, swapping and
// clamping them into the unit square.
func New(ax, ay, bx, by float64) (Rect, error) {
	r := Rect{X0: ax, Y0: ay, X1: bx, Y1: by}.Normalize().Clamp()
	if !r.Valid() {
		return Rect{}, fmt.Errorf("while building rect (%g,%g)-(%g,%g): %w", ax, ay, bx, by, ErrDegenerate)
	}
	return r, nil
}

// Normalize swaps coordinates so that X0 <= X1 and Y0 <= Y1.
func (r Rect) Normalize() Rect {
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

// Clamp restricts every coordinate to [0,1].
func (r Rect) Clamp() Rect {
	return Rect{
		X0: clamp01(r.X0),
		Y0: clamp01(r.Y0),
		X1: clamp01(r.X1),
		Y1: clamp01(r.Y1),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Valid reports whether the rectangle has positive width and height.
func (r Rect) Valid() bool {
	return r.X0 < r.X1 && r.Y0 < r.Y1
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Area is zero for invalid rectangles.
func (r Rect) Area() float64 {
	if !r.Valid() {
		return 0
	}
	return r.Width() * r.Height()
}

// Contains reports whether the point lies inside the rectangle, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X0 && x <= r.X1 && y >= r.Y0 && y <= r.Y1
}

// Intersect returns the overlapping region. The result is invalid when the
// rectangles do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
}

// Overlaps reports a non-zero intersection area.
func (r Rect) Overlaps(o Rect) bool {
	return r.Intersect(o).Valid()
}

// OverlapFraction is the share of r's area covered by o, in [0,1].
func (r Rect) OverlapFraction(o Rect) float64 {
	area := r.Area()
	if area == 0 {
		return 0
	}
	return r.Intersect(o).Area() / area
}

// Translate moves the rectangle keeping its size, stopping at the unit square borders.
func (r Rect) Translate(dx, dy float64) Rect {
	w, h := r.Width(), r.Height()
	x0 := math.Max(0, math.Min(1-w, r.X0+dx))
	y0 := math.Max(0, math.Min(1-h, r.Y0+dy))
	return Rect{X0: x0, Y0: y0, X1: x0 + w, Y1: y0 + h}
}

// Grow pushes every side outwards by d (inwards when negative), then
// normalizes and clamps.
func (r Rect) Grow(d float64) Rect {
	return Rect{X0: r.X0 - d, Y0: r.Y0 - d, X1: r.X1 + d, Y1: r.Y1 + d}.Normalize().Clamp()
}

// MoveEdges nudges the selected edges by d. Left and top edges move outwards
// for positive d, the same way right and bottom do. The result is normalized
// and clamped, so pushing an edge past its opposite swaps them.
func (r Rect) MoveEdges(edges Edge, d float64) Rect {
	if edges&EdgeLeft != 0 {
		r.X0 -= d
	}
	if edges&EdgeRight != 0 {
		r.X1 += d
	}
	if edges&EdgeTop != 0 {
		r.Y0 -= d
	}
	if edges&EdgeBottom != 0 {
		r.Y1 += d
	}
	return r.Normalize().Clamp()
}

// ToPixels denormalizes against the given image size, rounding to the nearest pixel.
func (r Rect) ToPixels(width, height int) PixelRect {
	w, h := float64(width), float64(height)
	return PixelRect{
		X0: int(math.Round(r.X0 * w)),
		Y0: int(math.Round(r.Y0 * h)),
		X1: int(math.Round(r.X1 * w)),
		Y1: int(math.Round(r.Y1 * h)),
	}
}

// FromPixels normalizes a pixel rectangle against the given image size.
func FromPixels(p PixelRect, width, height int) (Rect, error) {
	if width <= 0 || height <= 0 {
		return Rect{}, fmt.Errorf("while normalizing pixel rect: invalid image size %dx%d", width, height)
	}
	w, h := float64(width), float64(height)
	return New(float64(p.X0)/w, float64(p.Y0)/h, float64(p.X1)/w, float64(p.Y1)/h)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.4f,%.4f)-(%.4f,%.4f)", r.X0, r.Y0, r.X1, r.Y1)
}
