package geometry

import "strings"

// Edge is a bit set of rectangle sides. Corners combine two bits; EdgeNone
// stands for the middle of the rectangle.
type Edge uint8

const (
	EdgeNone Edge = 0
	EdgeLeft Edge = 1 << iota
	EdgeTop
	EdgeRight
	EdgeBottom

	EdgeAll = EdgeLeft | EdgeTop | EdgeRight | EdgeBottom
)

func (e Edge) String() string {
	if e == EdgeNone {
		return "middle"
	}
	var parts []string
	if e&EdgeTop != 0 {
		parts = append(parts, "top")
	}
	if e&EdgeBottom != 0 {
		parts = append(parts, "bottom")
	}
	if e&EdgeLeft != 0 {
		parts = append(parts, "left")
	}
	if e&EdgeRight != 0 {
		parts = append(parts, "right")
	}
	return strings.Join(parts, "-")
}

// Region splits r in a 3x3 grid and returns the edges of the cell nearest to
// the point. Points outside the rectangle snap to the closest border cell.
func (r Rect) Region(x, y float64) Edge {
	var e Edge
	w3, h3 := r.Width()/3, r.Height()/3
	switch {
	case x < r.X0+w3:
		e |= EdgeLeft
	case x > r.X1-w3:
		e |= EdgeRight
	}
	switch {
	case y < r.Y0+h3:
		e |= EdgeTop
	case y > r.Y1-h3:
		e |= EdgeBottom
	}
	return e
}
