package annotation

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// Store owns every ImageRecord of a session. All reads hand out copies, so
// callers never hold references into the live records.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*domain.ImageRecord
	workflow  Workflow
	logger    *slog.Logger
	resetting atomic.Bool

	listenersMu sync.Mutex
	onRemove    []func(imageID string)
}

// Snapshot is an immutable copy of the store taken at one instant
type Snapshot struct {
	Records []*domain.ImageRecord
	TakenAt time.Time
}

// Get returns the record with the given id, nil if absent
func (s Snapshot) Get(imageID string) *domain.ImageRecord {
	i, ok := slices.BinarySearchFunc(s.Records, imageID, func(r *domain.ImageRecord, id string) int {
		switch {
		case r.ImageID < id:
			return -1
		case r.ImageID > id:
			return 1
		}
		return 0
	})
	if !ok {
		return nil
	}
	return s.Records[i]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore creates an empty store
func NewStore(workflow Workflow, logger *slog.Logger) *Store {
	if logger == nil {
		logger = discardLogger()
	}
	return &Store{
		records:  map[string]*domain.ImageRecord{},
		workflow: workflow,
		logger:   logger,
	}
}

// Workflow returns the review rules used by the store
func (s *Store) Workflow() Workflow {
	return s.workflow
}

// OnRemove registers a callback fired after an image leaves the store
func (s *Store) OnRemove(fn func(imageID string)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.onRemove = append(s.onRemove, fn)
}

func (s *Store) notifyRemoved(ids []string) {
	s.listenersMu.Lock()
	listeners := slices.Clone(s.onRemove)
	s.listenersMu.Unlock()
	for _, id := range ids {
		for _, fn := range listeners {
			fn(id)
		}
	}
}

func notFound(imageID string) error {
	return fmt.Errorf("image %q: %w", imageID, domain.ErrNotFound)
}

// mutate runs fn on the live record under the write lock
func (s *Store) mutate(imageID string, fn func(rec *domain.ImageRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[imageID]
	if !ok {
		return notFound(imageID)
	}
	return fn(rec)
}

// UpsertImage returns the record for imageID, creating an empty one if needed
func (s *Store) UpsertImage(imageID string) (*domain.ImageRecord, error) {
	return s.UpsertImageInfo(domain.ImageInfo{ImageID: imageID})
}

// UpsertImageInfo is UpsertImage that also records file metadata when given
func (s *Store) UpsertImageInfo(info domain.ImageInfo) (*domain.ImageRecord, error) {
	if info.ImageID == "" {
		return nil, fmt.Errorf("while upserting image: empty image id: %w", domain.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[info.ImageID]
	if !ok {
		rec = domain.NewImageRecord(info.ImageID)
		s.records[info.ImageID] = rec
		s.logger.Debug("image added", "image_id", info.ImageID)
	}
	if info.Filename != "" {
		rec.Filename = info.Filename
	}
	if info.Width > 0 && info.Height > 0 {
		rec.Width, rec.Height = info.Width, info.Height
	}
	return rec.Clone(), nil
}

// Get returns a copy of the record
func (s *Store) Get(imageID string) (*domain.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[imageID]
	if !ok {
		return nil, notFound(imageID)
	}
	return rec.Clone(), nil
}

// Has reports whether the image is known
func (s *Store) Has(imageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[imageID]
	return ok
}

// IDs lists the known image ids in sorted order
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// AddBox appends a new box to an image in editing mode
func (s *Store) AddBox(imageID string, rect geometry.Rect) (domain.BoundingBox, error) {
	var box domain.BoundingBox
	rect = rect.Normalize().Clamp()
	if !rect.Valid() {
		return box, fmt.Errorf("while adding box to %s: %w", imageID, geometry.ErrDegenerate)
	}
	err := s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionAddBox); err != nil {
			return err
		}
		box = domain.BoundingBox{ID: rec.NextBoxID, Rect: rect, CreatedOrder: rec.NextOrder}
		rec.Reserve(box)
		rec.Boxes = append(rec.Boxes, box)
		rec.Dirty = true
		return nil
	})
	if err != nil {
		return box, fmt.Errorf("while adding box to %s: %w", imageID, err)
	}
	return box, nil
}

func activeBox(rec *domain.ImageRecord, boxID int) (int, error) {
	i := rec.FindBox(boxID)
	if i < 0 || rec.Boxes[i].Tombstoned {
		return -1, fmt.Errorf("box %d of image %q: %w", boxID, rec.ImageID, domain.ErrNotFound)
	}
	return i, nil
}

// UpdateBox replaces the rectangle of an active box, keeping its id and order
func (s *Store) UpdateBox(imageID string, boxID int, rect geometry.Rect) error {
	rect = rect.Normalize().Clamp()
	if !rect.Valid() {
		return fmt.Errorf("while updating box %d of %s: %w", boxID, imageID, geometry.ErrDegenerate)
	}
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionAddBox); err != nil {
			return fmt.Errorf("while updating box %d: %w", boxID, err)
		}
		i, err := activeBox(rec, boxID)
		if err != nil {
			return err
		}
		if rec.Boxes[i].Rect != rect {
			rec.Boxes[i].Rect = rect
			rec.Dirty = true
		}
		return nil
	})
}

// DeleteBox tombstones an active box
func (s *Store) DeleteBox(imageID string, boxID int) error {
	return s.DeleteBoxes(imageID, boxID)
}

// DeleteBoxes tombstones every given box, or none of them when any id is
// unknown or already deleted
func (s *Store) DeleteBoxes(imageID string, boxIDs ...int) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionDeleteSelected); err != nil {
			return fmt.Errorf("while deleting boxes %v: %w", boxIDs, err)
		}
		indexes := make([]int, 0, len(boxIDs))
		for _, id := range boxIDs {
			i, err := activeBox(rec, id)
			if err != nil {
				return err
			}
			indexes = append(indexes, i)
		}
		for _, i := range indexes {
			rec.Boxes[i].Tombstoned = true
		}
		if len(indexes) > 0 {
			rec.Dirty = true
		}
		return nil
	})
}

// RestoreBox undoes the deletion of a box that was not compacted yet
func (s *Store) RestoreBox(imageID string, boxID int) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionAddBox); err != nil {
			return fmt.Errorf("while restoring box %d: %w", boxID, err)
		}
		i := rec.FindBox(boxID)
		if i < 0 || !rec.Boxes[i].Tombstoned {
			return fmt.Errorf("deleted box %d of image %q: %w", boxID, imageID, domain.ErrNotFound)
		}
		rec.Boxes[i].Tombstoned = false
		rec.Dirty = true
		return nil
	})
}

// ActiveBoxes returns a lazy sequence of the non-tombstoned boxes ordered by
// creation. Each iteration reads the current state, so the sequence can be
// ranged over again after edits.
func (s *Store) ActiveBoxes(imageID string) (iter.Seq[domain.BoundingBox], error) {
	if !s.Has(imageID) {
		return nil, notFound(imageID)
	}
	return func(yield func(domain.BoundingBox) bool) {
		s.mu.RLock()
		var boxes []domain.BoundingBox
		if rec, ok := s.records[imageID]; ok {
			boxes = rec.ActiveBoxes()
		}
		s.mu.RUnlock()
		for _, b := range boxes {
			if !yield(b) {
				return
			}
		}
	}, nil
}

// EnterEditMode unlocks box mutations for an image
func (s *Store) EnterEditMode(imageID string) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		rec.Editing = true
		return nil
	})
}

// LeaveEditMode locks box mutations again. Pending edits are kept.
func (s *Store) LeaveEditMode(imageID string) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionLeaveEdit); err != nil {
			return err
		}
		rec.Editing = false
		return nil
	})
}

// DiscardEdits restores the boxes committed by the last accept or import
func (s *Store) DiscardEdits(imageID string) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Check(rec, domain.ActionDiscardEdits); err != nil {
			return err
		}
		rec.Boxes = slices.Clone(rec.Committed)
		rec.Dirty = false
		return nil
	})
}

// MarkCorrect flags an image as correct without committing it
func (s *Store) MarkCorrect(imageID string) error {
	return s.mutate(imageID, s.workflow.MarkCorrect)
}

// Accept commits an image and returns the resulting record
func (s *Store) Accept(imageID, reviewerID string) (*domain.ImageRecord, error) {
	var ret *domain.ImageRecord
	err := s.mutate(imageID, func(rec *domain.ImageRecord) error {
		if err := s.workflow.Accept(rec, reviewerID); err != nil {
			return err
		}
		ret = rec.Clone()
		return nil
	})
	return ret, err
}

// SetReviewStatus applies a status change through the review workflow
func (s *Store) SetReviewStatus(imageID string, status domain.ReviewStatus, reviewerID string) error {
	return s.mutate(imageID, func(rec *domain.ImageRecord) error {
		return s.workflow.SetStatus(rec, status, reviewerID)
	})
}

// IsActionEnabled reports whether the workflow allows action on the image
func (s *Store) IsActionEnabled(imageID string, action domain.Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[imageID]
	if !ok {
		return false
	}
	return s.workflow.Enabled(rec, action)
}

// Snapshot deep-copies every record, sorted by image id
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*domain.ImageRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec.Clone())
	}
	slices.SortFunc(records, func(a, b *domain.ImageRecord) int {
		switch {
		case a.ImageID < b.ImageID:
			return -1
		case a.ImageID > b.ImageID:
			return 1
		}
		return 0
	})
	return Snapshot{Records: records, TakenAt: time.Now().UTC()}
}

// Tx is a set of staged record changes applied by Update
type Tx struct {
	store   *Store
	staged  map[string]*domain.ImageRecord
	created []string
}

// Get returns a writable copy of the record, staging it on first access
func (tx *Tx) Get(imageID string) (*domain.ImageRecord, bool) {
	if rec, ok := tx.staged[imageID]; ok {
		return rec, true
	}
	rec, ok := tx.store.records[imageID]
	if !ok {
		return nil, false
	}
	c := rec.Clone()
	tx.staged[imageID] = c
	return c, true
}

// Upsert returns a writable record, creating it if absent
func (tx *Tx) Upsert(imageID string) *domain.ImageRecord {
	if rec, ok := tx.Get(imageID); ok {
		return rec
	}
	rec := domain.NewImageRecord(imageID)
	tx.staged[imageID] = rec
	tx.created = append(tx.created, imageID)
	return rec
}

// Workflow exposes the store review rules to transactions
func (tx *Tx) Workflow() Workflow {
	return tx.store.workflow
}

// Update stages changes through fn and applies them only if fn succeeds,
// so a failing import leaves the store untouched.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Tx{store: s, staged: map[string]*domain.ImageRecord{}}
	if err := fn(tx); err != nil {
		return err
	}
	for id, rec := range tx.staged {
		if rec.ImageID == "" {
			return fmt.Errorf("while applying update: record without id: %w", domain.ErrInvalidState)
		}
		s.records[id] = rec
	}
	if len(tx.created) > 0 {
		s.logger.Debug("images created by update", "count", len(tx.created))
	}
	return nil
}

// ErrNotResetting is returned when removal is attempted outside a session reset
var ErrNotResetting = errors.New("images can only be removed during a session reset")

// Reset runs fn with image removal enabled
func (s *Store) Reset(fn func() error) error {
	if !s.resetting.CompareAndSwap(false, true) {
		return fmt.Errorf("while starting session reset: reset already in progress: %w", domain.ErrInvalidState)
	}
	defer s.resetting.Store(false)
	s.logger.Info("session reset")
	return fn()
}

// RemoveImage drops a record. Only allowed inside Reset.
func (s *Store) RemoveImage(imageID string) error {
	if !s.resetting.Load() {
		return fmt.Errorf("while removing %s: %w: %w", imageID, ErrNotResetting, domain.ErrInvalidState)
	}
	s.mu.Lock()
	_, ok := s.records[imageID]
	delete(s.records, imageID)
	s.mu.Unlock()
	if !ok {
		return notFound(imageID)
	}
	s.notifyRemoved([]string{imageID})
	return nil
}

// Clear drops every record. Only allowed inside Reset.
func (s *Store) Clear() error {
	if !s.resetting.Load() {
		return fmt.Errorf("while clearing store: %w: %w", ErrNotResetting, domain.ErrInvalidState)
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.records = map[string]*domain.ImageRecord{}
	s.mu.Unlock()
	slices.Sort(ids)
	s.notifyRemoved(ids)
	return nil
}

// Restore replaces the store contents with saved records. Only allowed inside Reset.
func (s *Store) Restore(records []*domain.ImageRecord) error {
	if err := s.Clear(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		c := rec.Clone()
		c.Editing = false
		s.records[c.ImageID] = c
	}
	return nil
}
