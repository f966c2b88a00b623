package codec

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// Filter picks which images go into a training export
type Filter int

const (
	// ReviewedOnly exports accepted images only
	ReviewedOnly Filter = iota
	// All exports every image with at least one active box
	All
)

func (f Filter) String() string {
	if f == All {
		return "all"
	}
	return "reviewed"
}

// ParseFilter accepts "reviewed" and "all"
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reviewed", "reviewed-only", "reviewed_only":
		return ReviewedOnly, nil
	case "all":
		return All, nil
	}
	return ReviewedOnly, fmt.Errorf("unknown export filter %q", s)
}

// TrainingBox is a box in absolute pixel coordinates
type TrainingBox struct {
	X0    int     `json:"x0"`
	Y0    int     `json:"y0"`
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	Score float64 `json:"score,omitempty"`
}

// Pixels returns the box as a pixel rectangle
func (b TrainingBox) Pixels() geometry.PixelRect {
	return geometry.PixelRect{X0: b.X0, Y0: b.Y0, X1: b.X1, Y1: b.Y1}
}

// TrainingRecord pairs an image with its boxes for model training
type TrainingRecord struct {
	ImageID  string        `json:"image_id"`
	Filename string        `json:"filename"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Label    string        `json:"label"`
	Boxes    []TrainingBox `json:"boxes"`
}

// ExportTraining builds the training records of the images picked by filter.
// Accepted images export the boxes committed by their last accept, minus the
// ones deleted since. Pending additions and moves are not exported. It never
// modifies records.
func ExportTraining(records []*domain.ImageRecord, filter Filter, label string) ([]TrainingRecord, error) {
	var ret []TrainingRecord
	for _, rec := range records {
		var boxes []domain.BoundingBox
		switch filter {
		case All:
			boxes = rec.ActiveBoxes()
			if len(boxes) == 0 {
				continue
			}
		default:
			if rec.ReviewStatus != domain.Accepted {
				continue
			}
			boxes = rec.ReviewedBoxes()
		}
		if !rec.HasDimensions() {
			return nil, fmt.Errorf("while exporting %s: image dimensions unknown: %w", rec.ImageID, domain.ErrInvalidState)
		}
		tr := TrainingRecord{
			ImageID:  rec.ImageID,
			Filename: rec.Filename,
			Width:    rec.Width,
			Height:   rec.Height,
			Label:    label,
			Boxes:    make([]TrainingBox, 0, len(boxes)),
		}
		for _, b := range boxes {
			p := b.Rect.ToPixels(rec.Width, rec.Height)
			tr.Boxes = append(tr.Boxes, TrainingBox{X0: p.X0, Y0: p.Y0, X1: p.X1, Y1: p.Y1})
		}
		ret = append(ret, tr)
	}
	return ret, nil
}

// WriteJSONLines writes one JSON record per line
func WriteJSONLines(w io.Writer, records []TrainingRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("while writing training record %s: %w: %w", r.ImageID, domain.ErrPersistenceIO, err)
		}
	}
	return nil
}

// ReadJSONLines reads records written by WriteJSONLines. Blank lines are skipped.
func ReadJSONLines(r io.Reader) ([]TrainingRecord, error) {
	var ret []TrainingRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var tr TrainingRecord
		if err := json.Unmarshal([]byte(text), &tr); err != nil {
			return nil, fmt.Errorf("while reading training record on line %d: %w: %w", line, domain.ErrSchemaMismatch, err)
		}
		ret = append(ret, tr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("while reading training records: %w: %w", domain.ErrPersistenceIO, err)
	}
	return ret, nil
}

// CSVHeader is the first row written by WriteCSV
var CSVHeader = []string{"filename", "width", "height", "class", "xmin", "ymin", "xmax", "ymax"}

// WriteCSV writes one row per box
func WriteCSV(w io.Writer, records []TrainingRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("while writing csv header: %w: %w", domain.ErrPersistenceIO, err)
	}
	for _, r := range records {
		filename := r.Filename
		if filename == "" {
			filename = r.ImageID
		}
		for _, b := range r.Boxes {
			row := []string{
				filename,
				strconv.Itoa(r.Width),
				strconv.Itoa(r.Height),
				r.Label,
				strconv.Itoa(b.X0),
				strconv.Itoa(b.Y0),
				strconv.Itoa(b.X1),
				strconv.Itoa(b.Y1),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("while writing csv row for %s: %w: %w", r.ImageID, domain.ErrPersistenceIO, err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("while flushing csv: %w: %w", domain.ErrPersistenceIO, err)
	}
	return nil
}

// DefaultMinScore is the confidence below which predicted boxes are dropped
const DefaultMinScore = 0.5

// ImportPredictions loads model predictions as proposal boxes. Boxes without
// a score count as certain.
func ImportPredictions(tx Tx, records []TrainingRecord, minScore float64, mode Mode) (*ImportReport, error) {
	report := &ImportReport{Mode: mode}
	for _, tr := range records {
		if tr.ImageID == "" {
			return nil, fmt.Errorf("prediction record without image_id: %w", domain.ErrSchemaMismatch)
		}
		width, height := tr.Width, tr.Height
		if existing, ok := tx.Get(tr.ImageID); ok && (width <= 0 || height <= 0) {
			width, height = existing.Width, existing.Height
		}
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("prediction for %s has no image size: %w", tr.ImageID, domain.ErrSchemaMismatch)
		}
		var rects []geometry.Rect
		for _, b := range tr.Boxes {
			score := b.Score
			if score == 0 {
				score = 1
			}
			if score < minScore {
				report.BoxesSkipped++
				continue
			}
			rect, err := geometry.FromPixels(b.Pixels(), width, height)
			if err != nil {
				report.BoxesSkipped++
				continue
			}
			rects = append(rects, rect)
		}
		rec := report.record(tx, tr.ImageID)
		rec.Width, rec.Height = width, height
		if tr.Filename != "" {
			rec.Filename = tr.Filename
		}
		applyRects(rec, rects, mode, report)
	}
	return report, nil
}

// applyRects adds proposal boxes with fresh ids. They become part of the
// committed set, the same way JSON imports do.
func applyRects(rec *domain.ImageRecord, rects []geometry.Rect, mode Mode, report *ImportReport) {
	if mode == Replace {
		rec.Boxes = nil
		rec.Committed = nil
		if rec.ReviewStatus != domain.Unreviewed {
			report.conflict(rec.ImageID, 0, fmt.Sprintf("review status %s reset by replace", rec.ReviewStatus))
		}
		rec.ReviewStatus = domain.Unreviewed
		rec.ReviewerID = ""
		rec.ReviewedAt = time.Time{}
	}
	for _, r := range rects {
		b := domain.BoundingBox{ID: rec.NextBoxID, Rect: r, CreatedOrder: rec.NextOrder}
		rec.Reserve(b)
		rec.Boxes = append(rec.Boxes, b)
		rec.Committed = append(rec.Committed, b)
		report.BoxesImported++
	}
	if mode == Replace {
		rec.Dirty = false
	}
}
