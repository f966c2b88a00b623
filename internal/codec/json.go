// Package codec converts annotation records to and from the JSON interchange
// document and the training export records.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// SchemaVersion is the interchange version written by ExportJSON
const SchemaVersion = 1

// Generator identifies the writer of exported documents
var Generator = "rotulador-bbox"

// Document is the JSON interchange format
type Document struct {
	SchemaVersion int        `json:"schema_version"`
	Generator     string     `json:"generator,omitempty"`
	ExportedAt    *time.Time `json:"exported_at,omitempty"`
	Images        EntryList  `json:"images"`
}

// ImageEntry is the persisted form of one image record
type ImageEntry struct {
	ImageID      string              `json:"image_id"`
	Filename     string              `json:"filename,omitempty"`
	Width        int                 `json:"width,omitempty"`
	Height       int                 `json:"height,omitempty"`
	ReviewStatus domain.ReviewStatus `json:"review_status"`
	ReviewerID   *string             `json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time          `json:"reviewed_at,omitempty"`
	Boxes        []BoxEntry          `json:"boxes"`
	// Dirty entries carry the boxes of the last accept in Committed, Boxes
	// holds the pending edits
	Dirty     bool       `json:"dirty,omitempty"`
	Committed []BoxEntry `json:"committed,omitempty"`
}

// BoxEntry is a box as [x0, y0, x1, y1] in normalized coordinates
type BoxEntry struct {
	ID    int        `json:"id"`
	Rect  [4]float64 `json:"rect"`
	Order int        `json:"order,omitempty"`
}

// EntryList decodes either an array of entries or an object keyed by image id
type EntryList []ImageEntry

func (l *EntryList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var byID map[string]ImageEntry
		if err := json.Unmarshal(data, &byID); err != nil {
			return err
		}
		ret := make(EntryList, 0, len(byID))
		for id, entry := range byID {
			if entry.ImageID == "" {
				entry.ImageID = id
			}
			ret = append(ret, entry)
		}
		slices.SortFunc(ret, func(a, b ImageEntry) int { return strings.Compare(a.ImageID, b.ImageID) })
		*l = ret
		return nil
	}
	var ret []ImageEntry
	if err := json.Unmarshal(data, &ret); err != nil {
		return err
	}
	*l = ret
	return nil
}

func toBoxEntry(b domain.BoundingBox) BoxEntry {
	return BoxEntry{
		ID:    b.ID,
		Rect:  [4]float64{b.Rect.X0, b.Rect.Y0, b.Rect.X1, b.Rect.Y1},
		Order: b.CreatedOrder,
	}
}

// ExportJSON builds a document from records. Tombstoned boxes are left out.
// Records with pending edits also write their committed boxes.
func ExportJSON(records []*domain.ImageRecord, now time.Time) *Document {
	doc := &Document{
		SchemaVersion: SchemaVersion,
		Generator:     Generator,
		Images:        make(EntryList, 0, len(records)),
	}
	if !now.IsZero() {
		t := now.UTC()
		doc.ExportedAt = &t
	}
	for _, rec := range records {
		entry := ImageEntry{
			ImageID:      rec.ImageID,
			Filename:     rec.Filename,
			Width:        rec.Width,
			Height:       rec.Height,
			ReviewStatus: rec.ReviewStatus,
			Boxes:        []BoxEntry{},
		}
		if rec.ReviewerID != "" {
			reviewer := rec.ReviewerID
			entry.ReviewerID = &reviewer
		}
		if !rec.ReviewedAt.IsZero() {
			at := rec.ReviewedAt.UTC()
			entry.ReviewedAt = &at
		}
		for _, b := range rec.ActiveBoxes() {
			entry.Boxes = append(entry.Boxes, toBoxEntry(b))
		}
		if rec.Dirty {
			entry.Dirty = true
			for _, b := range rec.CommittedBoxes() {
				entry.Committed = append(entry.Committed, toBoxEntry(b))
			}
		}
		doc.Images = append(doc.Images, entry)
	}
	slices.SortFunc(doc.Images, func(a, b ImageEntry) int { return strings.Compare(a.ImageID, b.ImageID) })
	return doc
}

// Encode writes the document as indented JSON
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("while encoding annotation document: %w: %w", domain.ErrPersistenceIO, err)
	}
	return nil
}

// Decode reads and validates a document. Unknown fields are ignored.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("while decoding annotation document: %w: %w", domain.ErrSchemaMismatch, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the version and every entry of the document
func (d *Document) Validate() error {
	if d.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d, want %d: %w", d.SchemaVersion, SchemaVersion, domain.ErrSchemaMismatch)
	}
	for i, entry := range d.Images {
		if entry.ImageID == "" {
			return fmt.Errorf("image entry %d has no image_id: %w", i, domain.ErrSchemaMismatch)
		}
		if err := validateBoxes(entry.ImageID, entry.Boxes); err != nil {
			return err
		}
		if err := validateBoxes(entry.ImageID, entry.Committed); err != nil {
			return err
		}
	}
	return nil
}

func validateBoxes(imageID string, boxes []BoxEntry) error {
	for _, b := range boxes {
		if b.ID <= 0 {
			return fmt.Errorf("image %s has box with invalid id %d: %w", imageID, b.ID, domain.ErrSchemaMismatch)
		}
		if _, err := b.rect(); err != nil {
			return fmt.Errorf("image %s box %d: %w: %w", imageID, b.ID, domain.ErrSchemaMismatch, err)
		}
	}
	return nil
}

func (b BoxEntry) rect() (geometry.Rect, error) {
	return geometry.New(b.Rect[0], b.Rect[1], b.Rect[2], b.Rect[3])
}

// Mode selects how imported boxes combine with the existing ones
type Mode int

const (
	// Merge upserts imported boxes by id and keeps local-only boxes
	Merge Mode = iota
	// Replace swaps the image boxes for the imported ones
	Replace
)

func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "merge"
}

// ParseMode accepts "merge" and "replace"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merge":
		return Merge, nil
	case "replace":
		return Replace, nil
	}
	return Merge, fmt.Errorf("unknown import mode %q", s)
}

// Tx gives an import staged access to image records
type Tx interface {
	Get(imageID string) (*domain.ImageRecord, bool)
	Upsert(imageID string) *domain.ImageRecord
}

// Conflict is an imported value that overwrote, or was refused by, local content
type Conflict struct {
	ImageID string `json:"image_id"`
	BoxID   int    `json:"box_id,omitempty"`
	Reason  string `json:"reason"`
}

// ImportReport summarizes an import
type ImportReport struct {
	Mode          Mode
	ImagesCreated int
	ImagesUpdated int
	BoxesImported int
	BoxesSkipped  int
	Conflicts     []Conflict
	Skipped       []string
}

// Err wraps domain.ErrImportConflict when conflicts were recorded
func (r *ImportReport) Err() error {
	if r == nil || len(r.Conflicts) == 0 {
		return nil
	}
	return fmt.Errorf("%d conflicting values imported: %w", len(r.Conflicts), domain.ErrImportConflict)
}

func (r *ImportReport) conflict(imageID string, boxID int, reason string) {
	r.Conflicts = append(r.Conflicts, Conflict{ImageID: imageID, BoxID: boxID, Reason: reason})
}

func (r *ImportReport) record(tx Tx, imageID string) *domain.ImageRecord {
	if rec, ok := tx.Get(imageID); ok {
		r.ImagesUpdated++
		return rec
	}
	r.ImagesCreated++
	return tx.Upsert(imageID)
}

// upsertBox inserts or overwrites a box by id, reporting whether a differing
// active box was overwritten
func upsertBox(boxes []domain.BoundingBox, b domain.BoundingBox) ([]domain.BoundingBox, bool) {
	for i := range boxes {
		if boxes[i].ID != b.ID {
			continue
		}
		changed := boxes[i].Rect != b.Rect
		boxes[i].Rect = b.Rect
		return boxes, changed
	}
	return append(boxes, b), false
}

// ImportJSON applies a validated document through tx. Conflicts are reported,
// not fatal; any other error must make the caller discard the transaction.
func ImportJSON(tx Tx, doc *Document, mode Mode) (*ImportReport, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	report := &ImportReport{Mode: mode}
	for _, entry := range doc.Images {
		rec := report.record(tx, entry.ImageID)
		if entry.Filename != "" {
			rec.Filename = entry.Filename
		}
		if entry.Width > 0 && entry.Height > 0 {
			rec.Width, rec.Height = entry.Width, entry.Height
		}

		switch mode {
		case Replace:
			replaceBoxes(rec, entry, report)
		default:
			mergeBoxes(rec, entry, report)
		}

		if mode == Merge && rec.ReviewStatus != domain.Unreviewed && rec.ReviewStatus != entry.ReviewStatus {
			report.conflict(rec.ImageID, 0, fmt.Sprintf("review status %s overwritten by %s", rec.ReviewStatus, entry.ReviewStatus))
		}
		rec.ReviewStatus = entry.ReviewStatus
		rec.ReviewerID = ""
		if entry.ReviewerID != nil {
			rec.ReviewerID = *entry.ReviewerID
		}
		rec.ReviewedAt = time.Time{}
		if entry.ReviewedAt != nil {
			rec.ReviewedAt = entry.ReviewedAt.UTC()
		}
	}
	return report, nil
}

func replaceBoxes(rec *domain.ImageRecord, entry ImageEntry, report *ImportReport) {
	boxes := make([]domain.BoundingBox, 0, len(entry.Boxes))
	seen := map[int]bool{}
	useOrder := true
	for _, be := range entry.Boxes {
		if be.Order <= 0 {
			useOrder = false
		}
	}
	for _, be := range entry.Boxes {
		rect, _ := be.rect()
		b := domain.BoundingBox{ID: be.ID, Rect: rect}
		if seen[be.ID] {
			report.conflict(rec.ImageID, be.ID, "box id repeated in document")
			boxes, _ = upsertBox(boxes, b)
			continue
		}
		seen[be.ID] = true
		if useOrder {
			b.CreatedOrder = be.Order
		} else {
			b.CreatedOrder = rec.NextOrder
			rec.NextOrder++
		}
		rec.Reserve(b)
		boxes = append(boxes, b)
		report.BoxesImported++
	}
	rec.Boxes = boxes
	rec.Commit()
	if entry.Dirty {
		rec.Committed = committedBoxes(rec, entry)
		rec.Dirty = true
	}
}

// committedBoxes builds the committed set of a dirty entry. Boxes without an
// order take the one of the working box with the same id.
func committedBoxes(rec *domain.ImageRecord, entry ImageEntry) []domain.BoundingBox {
	ret := make([]domain.BoundingBox, 0, len(entry.Committed))
	for _, be := range entry.Committed {
		rect, _ := be.rect()
		b := domain.BoundingBox{ID: be.ID, Rect: rect, CreatedOrder: be.Order}
		if b.CreatedOrder <= 0 {
			if i := rec.FindBox(be.ID); i >= 0 {
				b.CreatedOrder = rec.Boxes[i].CreatedOrder
			} else {
				b.CreatedOrder = rec.NextOrder
			}
		}
		rec.Reserve(b)
		ret, _ = upsertBox(ret, b)
	}
	return ret
}

func mergeBoxes(rec *domain.ImageRecord, entry ImageEntry, report *ImportReport) {
	for _, be := range entry.Boxes {
		rect, _ := be.rect()
		if i := rec.FindBox(be.ID); i >= 0 && rec.Boxes[i].Tombstoned {
			report.conflict(rec.ImageID, be.ID, "box was deleted locally, keeping it deleted")
			report.BoxesSkipped++
			continue
		}
		b := domain.BoundingBox{ID: be.ID, Rect: rect, CreatedOrder: rec.NextOrder}
		var changed bool
		before := len(rec.Boxes)
		rec.Boxes, changed = upsertBox(rec.Boxes, b)
		if len(rec.Boxes) > before {
			rec.NextOrder++
		}
		rec.Reserve(b)
		if changed {
			report.conflict(rec.ImageID, be.ID, "box rect overwritten by import")
		}
		if !entry.Dirty {
			rec.Committed, _ = upsertBox(rec.Committed, b)
		}
		report.BoxesImported++
	}
	if entry.Dirty {
		for _, b := range committedBoxes(rec, entry) {
			rec.Committed, _ = upsertBox(rec.Committed, b)
		}
		rec.Dirty = true
	}
}
