package annotation

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/lewtec/rotulador-bbox/internal/domain"
)

type recordingPresenter struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresenter) add(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fmt.Sprintf(format, args...))
}

func (p *recordingPresenter) BuildOverlay(h Handle, rec *domain.ImageRecord) {
	p.add("build %s#%d", h.ImageID, h.Generation)
}

func (p *recordingPresenter) UpdateOverlay(h Handle, rec *domain.ImageRecord, selected []int) {
	p.add("update %s#%d boxes=%d selected=%v", h.ImageID, h.Generation, len(rec.ActiveBoxes()), selected)
}

func (p *recordingPresenter) SetOverlayVisible(h Handle, visible bool) {
	p.add("visible %s#%d %v", h.ImageID, h.Generation, visible)
}

func (p *recordingPresenter) ReleaseOverlay(h Handle) {
	p.add("release %s#%d", h.ImageID, h.Generation)
}

func (p *recordingPresenter) count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func newTestScene(t *testing.T) (*SceneController, *Store, *recordingPresenter) {
	t.Helper()
	store := newTestStore(t)
	p := &recordingPresenter{}
	return NewSceneController(store, p, DefaultSelectionIndex(), nil), store, p
}

func TestSceneController_Present(t *testing.T) {
	sc, store, p := newTestScene(t)

	first, err := sc.Present([]string{"a", "b"})
	if err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if len(first) != 2 || !store.Has("a") || !store.Has("b") {
		t.Fatalf("Present() = %v", first)
	}

	t.Run("re-presenting reuses handles without duplicates", func(t *testing.T) {
		again, err := sc.Present([]string{"a", "b", "a"})
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(again, first) {
			t.Errorf("Present() = %v, want %v", again, first)
		}
		if n := p.count("build"); n != 2 {
			t.Errorf("overlays built = %d, want 2", n)
		}
		if store.Len() != 2 {
			t.Errorf("store.Len() = %d, want 2", store.Len())
		}
	})

	t.Run("presenting a subset hides the rest without deleting", func(t *testing.T) {
		h := first[1]
		if !sc.SetVisible(h, true) {
			t.Fatal("SetVisible() on a live handle returned false")
		}
		if _, err := sc.Present([]string{"a"}); err != nil {
			t.Fatal(err)
		}
		if sc.Visible("b") {
			t.Error("b should be hidden")
		}
		if !store.Has("b") {
			t.Error("b record should be kept")
		}
		if cur, ok := sc.HandleFor("b"); !ok || cur != h {
			t.Errorf("HandleFor(b) = %v, %v; hidden overlays keep their handle", cur, ok)
		}
	})
}

func TestSceneController_StaleHandles(t *testing.T) {
	sc, store, p := newTestScene(t)
	handles, err := sc.Present([]string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	oldA := handles[0]

	err = store.Reset(func() error { return store.RemoveImage("a") })
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	t.Run("set visible with a stale handle is a no-op", func(t *testing.T) {
		before := p.count("visible")
		if sc.SetVisible(oldA, true) {
			t.Error("SetVisible() with a stale handle returned true")
		}
		if p.count("visible") != before {
			t.Error("presenter was called for a stale handle")
		}
	})

	t.Run("edit intents fail with StaleHandle", func(t *testing.T) {
		_, err := sc.AddBox(oldA, mustRect(t, 0, 0, 0.5, 0.5))
		if !errors.Is(err, domain.ErrStaleHandle) {
			t.Errorf("AddBox() error = %v, want ErrStaleHandle", err)
		}
		if _, err := sc.SelectAt(oldA, 0.1, 0.1); !errors.Is(err, domain.ErrStaleHandle) {
			t.Errorf("SelectAt() error = %v, want ErrStaleHandle", err)
		}
	})

	t.Run("removed image left the working set", func(t *testing.T) {
		if got := sc.WorkingSet(); !slices.Equal(got, []string{"b"}) {
			t.Errorf("WorkingSet() = %v, want [b]", got)
		}
		if p.count("release a") != 1 {
			t.Errorf("events = %v, want a released once", p.events)
		}
	})

	t.Run("re-presenting builds a new generation", func(t *testing.T) {
		again, err := sc.Present([]string{"a"})
		if err != nil {
			t.Fatal(err)
		}
		if again[0].Generation <= oldA.Generation {
			t.Errorf("generation = %d, want > %d", again[0].Generation, oldA.Generation)
		}
		if sc.SetVisible(oldA, true) {
			t.Error("the old handle must stay stale")
		}
		if !sc.SetVisible(again[0], true) {
			t.Error("the new handle should be live")
		}
	})

	t.Run("invalidate retires the handle", func(t *testing.T) {
		h, _ := sc.HandleFor("b")
		sc.Invalidate(h)
		if sc.SetVisible(h, true) {
			t.Error("SetVisible() after Invalidate returned true")
		}
	})
}

func TestSceneController_SwitchWorkingSet(t *testing.T) {
	sc, store, _ := newTestScene(t)
	if _, err := sc.SwitchWorkingSet([]string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	oldB, _ := sc.HandleFor("b")
	oldA, _ := sc.HandleFor("a")

	tr, err := sc.SwitchWorkingSet([]string{"a", "c"})
	if err != nil {
		t.Fatalf("SwitchWorkingSet() error = %v", err)
	}
	if !slices.Equal(tr.Before, []string{"a", "b"}) || !slices.Equal(tr.After, []string{"a", "c"}) {
		t.Errorf("transition = %+v", tr)
	}
	if len(tr.Retired) != 1 || tr.Retired[0] != oldB {
		t.Errorf("Retired = %v, want [%v]", tr.Retired, oldB)
	}
	if len(tr.Reused) != 1 || tr.Reused[0] != oldA {
		t.Errorf("Reused = %v, want [%v]", tr.Reused, oldA)
	}
	if len(tr.Built) != 1 || tr.Built[0].ImageID != "c" {
		t.Errorf("Built = %v, want c", tr.Built)
	}
	if sc.SetVisible(oldB, true) {
		t.Error("handle of an image outside the set must be stale")
	}
	if !store.Has("b") {
		t.Error("switching folders must not delete records")
	}
}

func TestSceneController_Selection(t *testing.T) {
	sc, store, _ := newTestScene(t)
	handles, _ := sc.Present([]string{"a"})
	h := handles[0]
	if _, err := sc.Show("a"); err != nil {
		t.Fatal(err)
	}
	store.EnterEditMode("a")

	big, err := sc.AddBox(h, mustRect(t, 0, 0, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	small, err := sc.AddBox(h, mustRect(t, 0.2, 0.2, 0.4, 0.4))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("point select prefers the nested box", func(t *testing.T) {
		got, err := sc.SelectAt(h, 0.3, 0.3)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []int{small.ID}) {
			t.Errorf("SelectAt() = %v, want [%d]", got, small.ID)
		}
	})

	t.Run("stretch moves the selected box", func(t *testing.T) {
		if err := sc.StretchSelected(h, 0.39, 0.3, 1); err != nil {
			t.Fatalf("StretchSelected() error = %v", err)
		}
		rec, _ := store.Get("a")
		got := rec.Boxes[rec.FindBox(small.ID)].Rect
		if got.X1 <= 0.4 || got.X0 != 0.2 {
			t.Errorf("rect = %v, want right edge moved", got)
		}
	})

	t.Run("delete selected tombstones and clears the selection", func(t *testing.T) {
		n, err := sc.DeleteSelected(h)
		if err != nil || n != 1 {
			t.Fatalf("DeleteSelected() = %d, %v", n, err)
		}
		if sc.HasSelection() {
			t.Error("selection should be empty")
		}
		if _, err := sc.DeleteSelected(h); !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("DeleteSelected() without selection error = %v, want ErrInvalidState", err)
		}
		got, _ := sc.SelectAt(h, 0.3, 0.3)
		if !slices.Equal(got, []int{big.ID}) {
			t.Errorf("SelectAt() = %v, want [%d]", got, big.ID)
		}
	})

	t.Run("rubber band", func(t *testing.T) {
		got, err := sc.SelectRect(h, mustRect(t, 0.9, 0.9, 1, 1))
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, []int{big.ID}) {
			t.Errorf("SelectRect() = %v, want [%d]", got, big.ID)
		}
	})

	t.Run("delete selected with a box already gone deletes nothing", func(t *testing.T) {
		first, _ := sc.AddBox(h, mustRect(t, 0.5, 0.5, 0.6, 0.6))
		second, _ := sc.AddBox(h, mustRect(t, 0.7, 0.7, 0.8, 0.8))
		selected, err := sc.SelectRect(h, mustRect(t, 0.45, 0.45, 0.85, 0.85))
		if err != nil || len(selected) != 3 {
			t.Fatalf("SelectRect() = %v, %v", selected, err)
		}
		if err := store.DeleteBox("a", second.ID); err != nil {
			t.Fatal(err)
		}

		n, err := sc.DeleteSelected(h)
		if !errors.Is(err, domain.ErrNotFound) || n != 0 {
			t.Errorf("DeleteSelected() = %d, %v, want 0, ErrNotFound", n, err)
		}
		rec, _ := store.Get("a")
		for _, id := range []int{big.ID, first.ID} {
			if i := rec.FindBox(id); i < 0 || rec.Boxes[i].Tombstoned {
				t.Errorf("box %d was deleted", id)
			}
		}
		if _, got := sc.Selection(); len(got) != 3 {
			t.Errorf("Selection() = %v, want it kept", got)
		}
	})
}
