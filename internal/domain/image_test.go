package domain

import (
	"encoding/json"
	"testing"

	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

func TestReviewStatus_Text(t *testing.T) {
	for _, s := range []ReviewStatus{Unreviewed, MarkedCorrect, Accepted} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", s, err)
		}
		var got ReviewStatus
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if got != s {
			t.Errorf("status = %v, want %v", got, s)
		}
	}

	if _, err := ParseReviewStatus("approved-ish"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestImageRecord_ActiveBoxes(t *testing.T) {
	rec := NewImageRecord("img1")
	rec.Boxes = []BoundingBox{
		{ID: 3, CreatedOrder: 3, Rect: geometry.Rect{X1: 1, Y1: 1}},
		{ID: 1, CreatedOrder: 1, Rect: geometry.Rect{X1: 1, Y1: 1}},
		{ID: 2, CreatedOrder: 2, Tombstoned: true},
	}

	active := rec.ActiveBoxes()
	if len(active) != 2 {
		t.Fatalf("len(ActiveBoxes()) = %d, want 2", len(active))
	}
	if active[0].ID != 1 || active[1].ID != 3 {
		t.Errorf("ActiveBoxes() ids = %d,%d, want 1,3", active[0].ID, active[1].ID)
	}

	t.Run("clone does not share boxes", func(t *testing.T) {
		c := rec.Clone()
		c.Boxes[0].Tombstoned = true
		if rec.Boxes[0].Tombstoned {
			t.Error("mutating the clone changed the original")
		}
	})

	t.Run("compact drops tombstones", func(t *testing.T) {
		c := rec.Clone()
		if n := c.Compact(); n != 1 {
			t.Errorf("Compact() = %d, want 1", n)
		}
		if c.FindBox(2) != -1 {
			t.Error("tombstoned box still present after Compact()")
		}
	})
}

func TestImageRecord_ReviewedBoxes(t *testing.T) {
	rec := NewImageRecord("img1")
	rec.Boxes = []BoundingBox{
		{ID: 1, CreatedOrder: 1, Rect: geometry.Rect{X1: 0.5, Y1: 0.5}},
		{ID: 2, CreatedOrder: 2, Rect: geometry.Rect{X0: 0.5, Y0: 0.5, X1: 1, Y1: 1}},
		{ID: 3, CreatedOrder: 3, Rect: geometry.Rect{X1: 1, Y1: 1}},
	}
	rec.Commit()

	rec.Boxes[0].Tombstoned = true
	rec.Boxes[1].Rect = geometry.Rect{X1: 0.2, Y1: 0.2}
	rec.Boxes = append(rec.Boxes, BoundingBox{ID: 4, CreatedOrder: 4, Rect: geometry.Rect{X1: 0.1, Y1: 0.1}})
	rec.Dirty = true

	got := rec.ReviewedBoxes()
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("ReviewedBoxes() = %v, want ids 2,3", got)
	}
	if got[0].Rect.X0 != 0.5 {
		t.Errorf("ReviewedBoxes()[0].Rect = %v, want the committed rect", got[0].Rect)
	}

	t.Run("boxes removed by compaction are not reviewed", func(t *testing.T) {
		c := rec.Clone()
		c.Compact()
		if got := c.ReviewedBoxes(); len(got) != 2 || got[0].ID != 2 {
			t.Errorf("ReviewedBoxes() = %v, want ids 2,3", got)
		}
	})
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("accept")
	if err != nil || a != ActionAccept {
		t.Errorf("ParseAction(accept) = %v, %v", a, err)
	}
	if _, err := ParseAction("fly"); err == nil {
		t.Error("expected error for unknown action")
	}
}
