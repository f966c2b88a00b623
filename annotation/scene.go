package annotation

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// Handle is the token the presentation layer gets for an image overlay.
// It stops working as soon as the overlay is rebuilt or retired.
type Handle struct {
	ImageID    string `json:"image_id"`
	Generation uint64 `json:"generation"`
}

// Presenter renders overlays. Calls are made with the controller lock held
// and must not call back into the controller.
type Presenter interface {
	BuildOverlay(h Handle, rec *domain.ImageRecord)
	UpdateOverlay(h Handle, rec *domain.ImageRecord, selected []int)
	SetOverlayVisible(h Handle, visible bool)
	ReleaseOverlay(h Handle)
}

type nopPresenter struct{}

func (nopPresenter) BuildOverlay(Handle, *domain.ImageRecord)        {}
func (nopPresenter) UpdateOverlay(Handle, *domain.ImageRecord, []int) {}
func (nopPresenter) SetOverlayVisible(Handle, bool)                   {}
func (nopPresenter) ReleaseOverlay(Handle)                            {}

type overlay struct {
	generation uint64
	live       bool
	visible    bool
}

// Transition describes what a working set switch did
type Transition struct {
	Before  []string
	After   []string
	Built   []Handle
	Reused  []Handle
	Retired []Handle
}

// SceneController owns the overlay handles of the presented images and
// forwards edit intents to the store after checking the handle generation.
type SceneController struct {
	mu        sync.Mutex
	store     *Store
	presenter Presenter
	index     SelectionIndex
	logger    *slog.Logger

	overlays   map[string]*overlay
	workingSet []string
	current    string
	selected   []int
}

// NewSceneController creates a controller bound to the store. A nil presenter
// is replaced by one that ignores every call.
func NewSceneController(store *Store, presenter Presenter, index SelectionIndex, logger *slog.Logger) *SceneController {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	if logger == nil {
		logger = discardLogger()
	}
	sc := &SceneController{
		store:     store,
		presenter: presenter,
		index:     index,
		logger:    logger,
		overlays:  map[string]*overlay{},
	}
	store.OnRemove(sc.forget)
	return sc
}

// Index returns the selection rules in use
func (sc *SceneController) Index() SelectionIndex {
	return sc.index
}

func (sc *SceneController) handleOf(imageID string) (Handle, bool) {
	ov, ok := sc.overlays[imageID]
	if !ok || !ov.live {
		return Handle{}, false
	}
	return Handle{ImageID: imageID, Generation: ov.generation}, true
}

// HandleFor returns the live handle of an image
func (sc *SceneController) HandleFor(imageID string) (Handle, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.handleOf(imageID)
}

func (sc *SceneController) valid(h Handle) bool {
	cur, ok := sc.handleOf(h.ImageID)
	return ok && cur.Generation == h.Generation
}

func (sc *SceneController) stale(h Handle, op string) error {
	sc.logger.Debug("stale overlay handle", "op", op, "image_id", h.ImageID, "generation", h.Generation)
	return fmt.Errorf("while %s on %s: %w", op, h.ImageID, domain.ErrStaleHandle)
}

// retire bumps the generation before releasing the overlay
func (sc *SceneController) retire(imageID string, release bool) (Handle, bool) {
	h, ok := sc.handleOf(imageID)
	if !ok {
		return Handle{}, false
	}
	ov := sc.overlays[imageID]
	ov.generation++
	ov.live = false
	ov.visible = false
	if release {
		sc.presenter.ReleaseOverlay(h)
	}
	if sc.current == imageID {
		sc.current = ""
		sc.selected = nil
	}
	return h, true
}

func (sc *SceneController) present(ids []string) (Transition, error) {
	var t Transition
	t.Before = slices.Clone(sc.workingSet)
	wanted := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		wanted = append(wanted, id)
	}

	for _, id := range wanted {
		rec, err := sc.store.UpsertImage(id)
		if err != nil {
			return t, err
		}
		if h, ok := sc.handleOf(id); ok {
			t.Reused = append(t.Reused, h)
			continue
		}
		ov, ok := sc.overlays[id]
		if !ok {
			ov = &overlay{}
			sc.overlays[id] = ov
		}
		ov.generation++
		ov.live = true
		ov.visible = false
		h := Handle{ImageID: id, Generation: ov.generation}
		sc.presenter.BuildOverlay(h, rec)
		t.Built = append(t.Built, h)
	}

	for id, ov := range sc.overlays {
		if !ov.live || seen[id] || !ov.visible {
			continue
		}
		ov.visible = false
		sc.presenter.SetOverlayVisible(Handle{ImageID: id, Generation: ov.generation}, false)
	}
	if sc.current != "" && !seen[sc.current] {
		sc.current = ""
		sc.selected = nil
	}
	sc.workingSet = wanted
	t.After = slices.Clone(wanted)
	return t, nil
}

// Present builds or reuses a handle for each image and hides the presented
// images that are not in the set. Records are created as needed and never
// deleted.
func (sc *SceneController) Present(ids []string) ([]Handle, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	t, err := sc.present(ids)
	if err != nil {
		return nil, fmt.Errorf("while presenting images: %w", err)
	}
	handles := make([]Handle, 0, len(t.After))
	for _, id := range t.After {
		h, _ := sc.handleOf(id)
		handles = append(handles, h)
	}
	return handles, nil
}

// SwitchWorkingSet replaces the presented set in one pass: handles of images
// leaving the set are retired, then the new set is presented.
func (sc *SceneController) SwitchWorkingSet(ids []string) (Transition, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	keep := map[string]bool{}
	for _, id := range ids {
		keep[id] = true
	}
	var retired []Handle
	for id := range sc.overlays {
		if keep[id] {
			continue
		}
		if h, ok := sc.retire(id, true); ok {
			retired = append(retired, h)
		}
	}
	t, err := sc.present(ids)
	slices.SortFunc(retired, func(a, b Handle) int {
		switch {
		case a.ImageID < b.ImageID:
			return -1
		case a.ImageID > b.ImageID:
			return 1
		}
		return 0
	})
	t.Retired = retired
	if err != nil {
		return t, fmt.Errorf("while switching working set: %w", err)
	}
	sc.logger.Info("working set switched", "before", len(t.Before), "after", len(t.After), "built", len(t.Built), "retired", len(t.Retired))
	return t, nil
}

// WorkingSet returns the ids presented by the last Present or SwitchWorkingSet
func (sc *SceneController) WorkingSet() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return slices.Clone(sc.workingSet)
}

// SetVisible shows or hides an overlay. A stale handle makes it a no-op and
// false is returned.
func (sc *SceneController) SetVisible(h Handle, visible bool) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		_ = sc.stale(h, "set visible")
		return false
	}
	sc.overlays[h.ImageID].visible = visible
	sc.presenter.SetOverlayVisible(h, visible)
	return true
}

// Visible reports whether the overlay of the image is shown
func (sc *SceneController) Visible(imageID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ov, ok := sc.overlays[imageID]
	return ok && ov.live && ov.visible
}

// Show makes the image the current one, hiding every other overlay
func (sc *SceneController) Show(imageID string) (Handle, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	h, ok := sc.handleOf(imageID)
	if !ok {
		return Handle{}, fmt.Errorf("image %q is not presented: %w", imageID, domain.ErrNotFound)
	}
	for id, ov := range sc.overlays {
		if id == imageID || !ov.live || !ov.visible {
			continue
		}
		ov.visible = false
		sc.presenter.SetOverlayVisible(Handle{ImageID: id, Generation: ov.generation}, false)
	}
	ov := sc.overlays[imageID]
	if !ov.visible {
		ov.visible = true
		sc.presenter.SetOverlayVisible(h, true)
	}
	if sc.current != imageID {
		sc.current = imageID
		sc.selected = nil
	}
	return h, nil
}

// Current returns the handle of the shown image
func (sc *SceneController) Current() (Handle, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.current == "" {
		return Handle{}, false
	}
	return sc.handleOf(sc.current)
}

// Invalidate is called by the presentation layer when it tore an overlay
// down on its own. Later calls with the handle become no-ops.
func (sc *SceneController) Invalidate(h Handle) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return
	}
	sc.retire(h.ImageID, false)
}

// forget retires the overlay of an image removed from the store
func (sc *SceneController) forget(imageID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.retire(imageID, true)
	sc.workingSet = slices.DeleteFunc(sc.workingSet, func(id string) bool { return id == imageID })
}

// Close retires every overlay
func (sc *SceneController) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for id := range sc.overlays {
		sc.retire(id, true)
	}
	sc.workingSet = nil
}

func (sc *SceneController) refresh(h Handle) {
	rec, err := sc.store.Get(h.ImageID)
	if err != nil {
		return
	}
	var selected []int
	if sc.current == h.ImageID {
		selected = slices.Clone(sc.selected)
	}
	sc.presenter.UpdateOverlay(h, rec, selected)
}

// Refresh pushes the current record state of every live overlay to the presenter
func (sc *SceneController) Refresh() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for id := range sc.overlays {
		if h, ok := sc.handleOf(id); ok {
			if sc.current == id {
				sc.pruneSelection(id)
			}
			sc.refresh(h)
		}
	}
}

// pruneSelection drops selected ids that are no longer active boxes
func (sc *SceneController) pruneSelection(imageID string) {
	rec, err := sc.store.Get(imageID)
	if err != nil {
		sc.selected = nil
		return
	}
	sc.selected = slices.DeleteFunc(sc.selected, func(id int) bool {
		i := rec.FindBox(id)
		return i < 0 || rec.Boxes[i].Tombstoned
	})
}

func (sc *SceneController) focus(h Handle) {
	if sc.current != h.ImageID {
		sc.current = h.ImageID
		sc.selected = nil
	}
}

// AddBox creates a box on the image of the handle
func (sc *SceneController) AddBox(h Handle, rect geometry.Rect) (domain.BoundingBox, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return domain.BoundingBox{}, sc.stale(h, "adding box")
	}
	box, err := sc.store.AddBox(h.ImageID, rect)
	if err != nil {
		return box, err
	}
	sc.refresh(h)
	return box, nil
}

// MoveBox replaces the rectangle of a box
func (sc *SceneController) MoveBox(h Handle, boxID int, rect geometry.Rect) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return sc.stale(h, "moving box")
	}
	if err := sc.store.UpdateBox(h.ImageID, boxID, rect); err != nil {
		return err
	}
	sc.refresh(h)
	return nil
}

// DeleteBox tombstones a box and drops it from the selection
func (sc *SceneController) DeleteBox(h Handle, boxID int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return sc.stale(h, "deleting box")
	}
	if err := sc.store.DeleteBox(h.ImageID, boxID); err != nil {
		return err
	}
	if sc.current == h.ImageID {
		sc.selected = slices.DeleteFunc(sc.selected, func(id int) bool { return id == boxID })
	}
	sc.refresh(h)
	return nil
}

// SelectAt selects the box under the pointer, clearing the selection when
// there is none.
func (sc *SceneController) SelectAt(h Handle, x, y float64) ([]int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return nil, sc.stale(h, "selecting")
	}
	boxes, err := sc.store.ActiveBoxes(h.ImageID)
	if err != nil {
		return nil, err
	}
	sc.focus(h)
	sc.selected = nil
	if b, ok := sc.index.PointSelect(boxes, x, y); ok {
		sc.selected = []int{b.ID}
	}
	sc.refresh(h)
	return slices.Clone(sc.selected), nil
}

// SelectRect selects every box overlapped by the drag rectangle
func (sc *SceneController) SelectRect(h Handle, drag geometry.Rect) ([]int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return nil, sc.stale(h, "selecting")
	}
	boxes, err := sc.store.ActiveBoxes(h.ImageID)
	if err != nil {
		return nil, err
	}
	sc.focus(h)
	sc.selected = nil
	for _, b := range sc.index.RectSelect(boxes, drag) {
		sc.selected = append(sc.selected, b.ID)
	}
	sc.refresh(h)
	return slices.Clone(sc.selected), nil
}

// Selection returns the selected box ids of the current image
func (sc *SceneController) Selection() (string, []int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current, slices.Clone(sc.selected)
}

// HasSelection reports whether any box of the current image is selected
func (sc *SceneController) HasSelection() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current != "" && len(sc.selected) > 0
}

// ClearSelection empties the selection
func (sc *SceneController) ClearSelection() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.selected = nil
	if h, ok := sc.handleOf(sc.current); ok {
		sc.refresh(h)
	}
}

func (sc *SceneController) requireSelection(h Handle) error {
	if sc.current != h.ImageID || len(sc.selected) == 0 {
		return fmt.Errorf("no box selected on %s: %w", h.ImageID, domain.ErrInvalidState)
	}
	return nil
}

// DeleteSelected tombstones every selected box. When one of them is gone
// nothing is deleted and the selection is kept.
func (sc *SceneController) DeleteSelected(h Handle) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return 0, sc.stale(h, "deleting selection")
	}
	if err := sc.requireSelection(h); err != nil {
		return 0, err
	}
	if err := sc.store.DeleteBoxes(h.ImageID, sc.selected...); err != nil {
		return 0, err
	}
	deleted := len(sc.selected)
	sc.selected = nil
	sc.refresh(h)
	return deleted, nil
}

// StretchSelected stretches the region of each selected box nearest to the pointer
func (sc *SceneController) StretchSelected(h Handle, x, y, delta float64) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return sc.stale(h, "stretching selection")
	}
	if err := sc.requireSelection(h); err != nil {
		return err
	}
	rec, err := sc.store.Get(h.ImageID)
	if err != nil {
		return err
	}
	for _, id := range sc.selected {
		i := rec.FindBox(id)
		if i < 0 {
			continue
		}
		next := sc.index.StretchAt(rec.Boxes[i].Rect, x, y, delta)
		if err := sc.store.UpdateBox(h.ImageID, id, next); err != nil {
			return err
		}
	}
	sc.refresh(h)
	return nil
}

// TranslateSelected moves every selected box keeping its size
func (sc *SceneController) TranslateSelected(h Handle, dx, dy float64) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.valid(h) {
		return sc.stale(h, "moving selection")
	}
	if err := sc.requireSelection(h); err != nil {
		return err
	}
	rec, err := sc.store.Get(h.ImageID)
	if err != nil {
		return err
	}
	for _, id := range sc.selected {
		i := rec.FindBox(id)
		if i < 0 {
			continue
		}
		if err := sc.store.UpdateBox(h.ImageID, id, rec.Boxes[i].Rect.Translate(dx, dy)); err != nil {
			return err
		}
	}
	sc.refresh(h)
	return nil
}
