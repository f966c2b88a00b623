package annotation

import (
	"fmt"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/domain"
)

// Workflow gates review transitions of a single image record.
//
// Editing is a transient mode, not a review status: entering it unlocks box
// mutations and leaving it never reverts the status. Accept is the single
// commit point and is only enabled for marked-correct images without pending
// edits, or for images in editing mode with pending edits. Accepting an
// already accepted clean image is a no-op, although the action is reported
// as disabled.
type Workflow struct {
	DefaultReviewer string
	Now             func() time.Time
}

// NewWorkflow creates a workflow that stamps reviews with the wall clock
func NewWorkflow(defaultReviewer string) Workflow {
	return Workflow{DefaultReviewer: defaultReviewer, Now: time.Now}
}

func (w Workflow) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

// Check returns nil when the action is allowed for the record, or an error
// wrapping domain.ErrInvalidState explaining why not.
func (w Workflow) Check(rec *domain.ImageRecord, action domain.Action) error {
	switch action {
	case domain.ActionEnterEdit:
		return nil
	case domain.ActionLeaveEdit:
		if !rec.Editing {
			return fmt.Errorf("image %s is not in editing mode: %w", rec.ImageID, domain.ErrInvalidState)
		}
		return nil
	case domain.ActionMarkCorrect:
		if rec.Editing {
			return fmt.Errorf("image %s is in editing mode, accept or leave it first: %w", rec.ImageID, domain.ErrInvalidState)
		}
		if rec.ReviewStatus == domain.Accepted {
			return fmt.Errorf("image %s is already accepted: %w", rec.ImageID, domain.ErrInvalidState)
		}
		return nil
	case domain.ActionAccept:
		switch {
		case rec.Editing && rec.Dirty:
			return nil
		case !rec.Editing && !rec.Dirty && rec.ReviewStatus == domain.MarkedCorrect:
			return nil
		}
		return fmt.Errorf("image %s cannot be accepted while %s (editing=%v, dirty=%v): %w",
			rec.ImageID, rec.ReviewStatus, rec.Editing, rec.Dirty, domain.ErrInvalidState)
	case domain.ActionAddBox, domain.ActionDeleteSelected, domain.ActionStretchSelected, domain.ActionDiscardEdits:
		if !rec.Editing {
			return fmt.Errorf("image %s is not in editing mode: %w", rec.ImageID, domain.ErrInvalidState)
		}
		return nil
	case domain.ActionImportJSON, domain.ActionExportJSON, domain.ActionExportTraining:
		return nil
	}
	return fmt.Errorf("unknown action %q: %w", action, domain.ErrInvalidState)
}

func (w Workflow) acceptIsNoop(rec *domain.ImageRecord) bool {
	return rec.ReviewStatus == domain.Accepted && !rec.Editing && !rec.Dirty
}

// Enabled is Check reduced to a boolean for UI wiring
func (w Workflow) Enabled(rec *domain.ImageRecord, action domain.Action) bool {
	return w.Check(rec, action) == nil
}

// MarkCorrect moves an unreviewed image to marked-correct
func (w Workflow) MarkCorrect(rec *domain.ImageRecord) error {
	if err := w.Check(rec, domain.ActionMarkCorrect); err != nil {
		return err
	}
	rec.ReviewStatus = domain.MarkedCorrect
	return nil
}

// Accept commits the current boxes, stamps the reviewer and leaves editing mode
func (w Workflow) Accept(rec *domain.ImageRecord, reviewerID string) error {
	if w.acceptIsNoop(rec) {
		return nil
	}
	if err := w.Check(rec, domain.ActionAccept); err != nil {
		return err
	}
	if reviewerID == "" {
		reviewerID = w.DefaultReviewer
	}
	rec.Compact()
	rec.Commit()
	rec.ReviewStatus = domain.Accepted
	rec.ReviewerID = reviewerID
	rec.ReviewedAt = w.now()
	rec.Editing = false
	return nil
}

// SetStatus routes a requested status through the matching transition
func (w Workflow) SetStatus(rec *domain.ImageRecord, status domain.ReviewStatus, reviewerID string) error {
	switch status {
	case domain.MarkedCorrect:
		return w.MarkCorrect(rec)
	case domain.Accepted:
		return w.Accept(rec, reviewerID)
	case domain.Unreviewed:
		if rec.ReviewStatus == domain.Unreviewed {
			return nil
		}
		return fmt.Errorf("image %s cannot go back to unreviewed: %w", rec.ImageID, domain.ErrInvalidState)
	}
	return fmt.Errorf("unknown review status %v: %w", status, domain.ErrInvalidState)
}
