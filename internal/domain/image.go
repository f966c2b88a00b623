package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// ReviewStatus is the per-image approval state
type ReviewStatus int

const (
	Unreviewed ReviewStatus = iota
	MarkedCorrect
	Accepted
)

func (s ReviewStatus) String() string {
	switch s {
	case Unreviewed:
		return "unreviewed"
	case MarkedCorrect:
		return "marked_correct"
	case Accepted:
		return "accepted"
	default:
		return fmt.Sprintf("ReviewStatus(%d)", int(s))
	}
}

// ParseReviewStatus accepts the names produced by String.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unreviewed":
		return Unreviewed, nil
	case "marked_correct", "correct":
		return MarkedCorrect, nil
	case "accepted":
		return Accepted, nil
	default:
		return Unreviewed, fmt.Errorf("unknown review status %q", s)
	}
}

func (s ReviewStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ReviewStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseReviewStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BoundingBox is a rectangle drawn over an image
type BoundingBox struct {
	ID           int
	Rect         geometry.Rect
	CreatedOrder int
	Tombstoned   bool
}

// ImageInfo describes an image file found on disk
type ImageInfo struct {
	ImageID  string
	Filename string
	Width    int
	Height   int
}

// ImageRecord holds the boxes and review state of one image
type ImageRecord struct {
	ImageID  string
	Filename string
	Width    int
	Height   int

	Boxes []BoundingBox
	// Committed is the box set as of the last accept or import.
	Committed []BoundingBox

	ReviewStatus ReviewStatus
	ReviewerID   string
	ReviewedAt   time.Time

	Dirty   bool
	Editing bool

	// NextBoxID and NextOrder never go backwards, so ids of deleted boxes are not reused.
	NextBoxID int
	NextOrder int
}

// NewImageRecord creates an empty, unreviewed record
func NewImageRecord(imageID string) *ImageRecord {
	return &ImageRecord{
		ImageID:   imageID,
		NextBoxID: 1,
		NextOrder: 1,
	}
}

// Clone returns a deep copy of the record
func (r *ImageRecord) Clone() *ImageRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Boxes = slices.Clone(r.Boxes)
	c.Committed = slices.Clone(r.Committed)
	return &c
}

// Info returns the file metadata of the record
func (r *ImageRecord) Info() ImageInfo {
	return ImageInfo{ImageID: r.ImageID, Filename: r.Filename, Width: r.Width, Height: r.Height}
}

// HasDimensions reports whether pixel sizes are known
func (r *ImageRecord) HasDimensions() bool {
	return r.Width > 0 && r.Height > 0
}

// FindBox returns the index of the box with the given id, or -1
func (r *ImageRecord) FindBox(id int) int {
	for i := range r.Boxes {
		if r.Boxes[i].ID == id {
			return i
		}
	}
	return -1
}

// ActiveBoxes returns the non-tombstoned boxes ordered by creation
func (r *ImageRecord) ActiveBoxes() []BoundingBox {
	return ActiveOf(r.Boxes)
}

// CommittedBoxes returns the non-tombstoned boxes of the committed set
func (r *ImageRecord) CommittedBoxes() []BoundingBox {
	return ActiveOf(r.Committed)
}

// ReviewedBoxes returns the committed boxes that were not deleted from the
// working set since the last accept. Rects keep their committed values.
func (r *ImageRecord) ReviewedBoxes() []BoundingBox {
	return slices.DeleteFunc(r.CommittedBoxes(), func(b BoundingBox) bool {
		i := r.FindBox(b.ID)
		return i < 0 || r.Boxes[i].Tombstoned
	})
}

// ActiveOf filters out tombstones and sorts by creation order
func ActiveOf(boxes []BoundingBox) []BoundingBox {
	ret := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if !b.Tombstoned {
			ret = append(ret, b)
		}
	}
	slices.SortStableFunc(ret, func(a, b BoundingBox) int {
		return a.CreatedOrder - b.CreatedOrder
	})
	return ret
}

// Compact drops tombstoned boxes
func (r *ImageRecord) Compact() int {
	before := len(r.Boxes)
	r.Boxes = slices.DeleteFunc(r.Boxes, func(b BoundingBox) bool {
		return b.Tombstoned
	})
	return before - len(r.Boxes)
}

// Commit snapshots the current active boxes as the committed set
func (r *ImageRecord) Commit() {
	r.Committed = r.ActiveBoxes()
	r.Dirty = false
}

// Reserve advances the id and order counters past the given box
func (r *ImageRecord) Reserve(b BoundingBox) {
	if b.ID >= r.NextBoxID {
		r.NextBoxID = b.ID + 1
	}
	if b.CreatedOrder >= r.NextOrder {
		r.NextOrder = b.CreatedOrder + 1
	}
}
