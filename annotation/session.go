package annotation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/go-git/go-billy/v6"

	"github.com/lewtec/rotulador-bbox/internal/codec"
	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// Session is the action surface the UI collaborator calls. Image-scoped
// actions apply to the image currently shown by the scene controller.
type Session struct {
	Config *Config
	Store  *Store
	Scene  *SceneController
	Repo   domain.SessionRepository

	logger *slog.Logger
}

// NewSession wires a store and a scene controller from the config. repo and
// presenter may be nil.
func NewSession(cfg *Config, presenter Presenter, repo domain.SessionRepository, logger *slog.Logger) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = discardLogger()
	}
	store := NewStore(NewWorkflow(cfg.Session.Reviewer), logger.With("component", "store"))
	return &Session{
		Config: cfg,
		Store:  store,
		Scene:  NewSceneController(store, presenter, cfg.SelectionIndex(), logger.With("component", "scene")),
		Repo:   repo,
		logger: logger,
	}
}

func (s *Session) current() (Handle, error) {
	h, ok := s.Scene.Current()
	if !ok {
		return Handle{}, fmt.Errorf("no image is shown: %w", domain.ErrInvalidState)
	}
	return h, nil
}

// Current returns a copy of the shown image record
func (s *Session) Current() (*domain.ImageRecord, error) {
	h, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.Store.Get(h.ImageID)
}

// LoadFolder scans a folder and makes its images the working set, showing
// the first one. Records of images outside the folder are kept.
func (s *Session) LoadFolder(fs billy.Filesystem, dir string) (Transition, error) {
	infos, err := ScanFolder(fs, dir, s.Config.Session.Extensions)
	if err != nil {
		return Transition{}, err
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		if _, err := s.Store.UpsertImageInfo(info); err != nil {
			return Transition{}, err
		}
		ids = append(ids, info.ImageID)
	}
	t, err := s.Scene.SwitchWorkingSet(ids)
	if err != nil {
		return t, err
	}
	if len(ids) > 0 {
		if _, err := s.Scene.Show(ids[0]); err != nil {
			return t, err
		}
	}
	s.logger.Info("folder loaded", "dir", dir, "images", len(ids))
	return t, nil
}

// Show switches the shown image
func (s *Session) Show(imageID string) (Handle, error) {
	return s.Scene.Show(imageID)
}

// IsActionEnabled tells the UI whether an action can be triggered right now
func (s *Session) IsActionEnabled(action domain.Action) bool {
	switch action {
	case domain.ActionImportJSON, domain.ActionExportJSON, domain.ActionExportTraining:
		return true
	}
	h, err := s.current()
	if err != nil {
		return false
	}
	if !s.Store.IsActionEnabled(h.ImageID, action) {
		return false
	}
	switch action {
	case domain.ActionDeleteSelected, domain.ActionStretchSelected:
		return s.Scene.HasSelection()
	}
	return true
}

// EnabledActions evaluates IsActionEnabled for every action
func (s *Session) EnabledActions() map[domain.Action]bool {
	ret := make(map[domain.Action]bool, len(domain.Actions))
	for _, a := range domain.Actions {
		ret[a] = s.IsActionEnabled(a)
	}
	return ret
}

func (s *Session) onCurrent(fn func(h Handle) error) error {
	h, err := s.current()
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	s.Scene.Refresh()
	return nil
}

func (s *Session) EnterEditMode() error {
	return s.onCurrent(func(h Handle) error { return s.Store.EnterEditMode(h.ImageID) })
}

func (s *Session) LeaveEditMode() error {
	return s.onCurrent(func(h Handle) error { return s.Store.LeaveEditMode(h.ImageID) })
}

func (s *Session) MarkCorrect() error {
	return s.onCurrent(func(h Handle) error { return s.Store.MarkCorrect(h.ImageID) })
}

func (s *Session) DiscardEdits() error {
	return s.onCurrent(func(h Handle) error { return s.Store.DiscardEdits(h.ImageID) })
}

// Accept commits the shown image under the given reviewer, or the configured
// one when empty
func (s *Session) Accept(reviewerID string) (*domain.ImageRecord, error) {
	var rec *domain.ImageRecord
	err := s.onCurrent(func(h Handle) error {
		var err error
		rec, err = s.Store.Accept(h.ImageID, reviewerID)
		return err
	})
	return rec, err
}

// Next shows the image after the current one in the working set. Past the
// last image it fails with domain.ErrNotFound and the shown image is kept.
func (s *Session) Next() (Handle, error) {
	h, err := s.current()
	if err != nil {
		return Handle{}, err
	}
	ids := s.Scene.WorkingSet()
	i := slices.Index(ids, h.ImageID)
	if i < 0 || i+1 >= len(ids) {
		return h, fmt.Errorf("no image after %s: %w", h.ImageID, domain.ErrNotFound)
	}
	return s.Scene.Show(ids[i+1])
}

// AcceptAndAdvance accepts the shown image and moves to the next one. On
// the last image the accepted one stays shown.
func (s *Session) AcceptAndAdvance(reviewerID string) (*domain.ImageRecord, Handle, error) {
	rec, err := s.Accept(reviewerID)
	if err != nil {
		return nil, Handle{}, err
	}
	h, err := s.Next()
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return rec, h, err
	}
	return rec, h, nil
}

// AddBox draws a box from two drag endpoints in normalized coordinates
func (s *Session) AddBox(ax, ay, bx, by float64) (domain.BoundingBox, error) {
	h, err := s.current()
	if err != nil {
		return domain.BoundingBox{}, err
	}
	rect, err := geometry.New(ax, ay, bx, by)
	if err != nil {
		return domain.BoundingBox{}, err
	}
	return s.Scene.AddBox(h, rect)
}

func (s *Session) SelectAt(x, y float64) ([]int, error) {
	h, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.Scene.SelectAt(h, x, y)
}

func (s *Session) SelectRect(ax, ay, bx, by float64) ([]int, error) {
	h, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.Scene.SelectRect(h, geometry.Rect{X0: ax, Y0: ay, X1: bx, Y1: by}.Normalize())
}

func (s *Session) DeleteSelected() (int, error) {
	h, err := s.current()
	if err != nil {
		return 0, err
	}
	return s.Scene.DeleteSelected(h)
}

func (s *Session) StretchSelected(x, y, delta float64) error {
	h, err := s.current()
	if err != nil {
		return err
	}
	return s.Scene.StretchSelected(h, x, y, delta)
}

func (s *Session) TranslateSelected(dx, dy float64) error {
	h, err := s.current()
	if err != nil {
		return err
	}
	return s.Scene.TranslateSelected(h, dx, dy)
}

// ImportDocument applies a decoded document in one transaction
func (s *Session) ImportDocument(doc *codec.Document, mode codec.Mode) (*codec.ImportReport, error) {
	return s.apply(func(tx *Tx) (*codec.ImportReport, error) {
		return codec.ImportJSON(tx, doc, mode)
	})
}

// ImportJSON loads an interchange file. The store is untouched on failure.
func (s *Session) ImportJSON(fs billy.Filesystem, filename string, mode codec.Mode) (*codec.ImportReport, error) {
	doc, err := codec.LoadJSON(fs, filename)
	if err != nil {
		return nil, err
	}
	return s.ImportDocument(doc, mode)
}

// ImportVOC loads labelImg XML files for images already in the session
func (s *Session) ImportVOC(fs billy.Filesystem, filenames []string, mode codec.Mode) (*codec.ImportReport, error) {
	anns, err := codec.LoadVOC(fs, filenames)
	if err != nil {
		return nil, err
	}
	return s.apply(func(tx *Tx) (*codec.ImportReport, error) {
		return codec.ImportVOC(tx, anns, mode, s.Config.Export.ClassLabel)
	})
}

// ImportPredictions loads model output as proposal boxes
func (s *Session) ImportPredictions(fs billy.Filesystem, filename string, mode codec.Mode) (*codec.ImportReport, error) {
	records, err := codec.LoadJSONLines(fs, filename)
	if err != nil {
		return nil, err
	}
	return s.apply(func(tx *Tx) (*codec.ImportReport, error) {
		return codec.ImportPredictions(tx, records, s.Config.Export.MinScore, mode)
	})
}

func (s *Session) apply(fn func(tx *Tx) (*codec.ImportReport, error)) (*codec.ImportReport, error) {
	var report *codec.ImportReport
	err := s.Store.Update(func(tx *Tx) error {
		var err error
		report, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("while importing: %w", err)
	}
	for _, c := range report.Conflicts {
		s.logger.Warn("import conflict", "image_id", c.ImageID, "box_id", c.BoxID, "reason", c.Reason)
	}
	s.Scene.Refresh()
	return report, nil
}

// ExportDocument builds the interchange document from a fresh snapshot
func (s *Session) ExportDocument() *codec.Document {
	snap := s.Store.Snapshot()
	return codec.ExportJSON(snap.Records, snap.TakenAt)
}

// ExportJSON writes the interchange file
func (s *Session) ExportJSON(fs billy.Filesystem, filename string) error {
	return codec.SaveJSON(fs, filename, s.ExportDocument())
}

// ExportJSONAsync snapshots the store now and writes the file in the
// background. Edits made after the call are not part of the file.
func (s *Session) ExportJSONAsync(ctx context.Context, fs billy.Filesystem, filename string) <-chan error {
	doc := s.ExportDocument()
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- codec.SaveJSON(fs, filename, doc)
	}()
	return done
}

// ExportTraining builds training records from a fresh snapshot
func (s *Session) ExportTraining(filter codec.Filter) ([]codec.TrainingRecord, error) {
	snap := s.Store.Snapshot()
	return codec.ExportTraining(snap.Records, filter, s.Config.Export.ClassLabel)
}

// WriteTraining exports training records to filename in the configured format
func (s *Session) WriteTraining(fs billy.Filesystem, filename string, filter codec.Filter, format string) (int, error) {
	records, err := s.ExportTraining(filter)
	if err != nil {
		return 0, err
	}
	if format == "" {
		format = s.Config.Export.Format
	}
	err = codec.WriteFileAtomic(fs, filename, func(w io.Writer) error {
		switch format {
		case "csv":
			return codec.WriteCSV(w, records)
		case "jsonl":
			return codec.WriteJSONLines(w, records)
		}
		return fmt.Errorf("unknown training format %q", format)
	})
	return len(records), err
}

// Save persists the store through the repository
func (s *Session) Save(ctx context.Context) error {
	if s.Repo == nil {
		return fmt.Errorf("while saving session: no repository configured: %w", domain.ErrInvalidState)
	}
	snap := s.Store.Snapshot()
	for _, rec := range snap.Records {
		rec.Compact()
	}
	if err := s.Repo.Save(ctx, snap.Records); err != nil {
		return fmt.Errorf("while saving session: %w: %w", domain.ErrPersistenceIO, err)
	}
	s.logger.Info("session saved", "images", len(snap.Records))
	return nil
}

// Restore replaces the store contents with the saved session
func (s *Session) Restore(ctx context.Context) error {
	if s.Repo == nil {
		return fmt.Errorf("while restoring session: no repository configured: %w", domain.ErrInvalidState)
	}
	records, err := s.Repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("while restoring session: %w: %w", domain.ErrPersistenceIO, err)
	}
	return s.Reset(func() error {
		return s.Store.Restore(records)
	})
}

// Reset runs fn inside a store reset, the only place where images can be
// removed. Overlays of removed images are retired on the way.
func (s *Session) Reset(fn func() error) error {
	start := time.Now()
	err := s.Store.Reset(fn)
	s.logger.Info("session reset done", "took", time.Since(start), "images", s.Store.Len())
	return err
}
