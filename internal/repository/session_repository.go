package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

const (
	kindWorking   = "working"
	kindCommitted = "committed"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SessionRepository implements domain.SessionRepository on sqlite
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// NewSessionRepositoryWithTx creates a new SessionRepository with a transaction
func NewSessionRepositoryWithTx(tx *sql.Tx) *SessionRepository {
	return &SessionRepository{db: tx}
}

// Save replaces the stored session with records in one transaction
func (r *SessionRepository) Save(ctx context.Context, records []*domain.ImageRecord) error {
	db, ok := r.db.(*sql.DB)
	if !ok {
		return r.save(ctx, records)
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("while starting save transaction: %w", err)
	}
	defer tx.Rollback()
	if err := NewSessionRepositoryWithTx(tx).save(ctx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SessionRepository) save(ctx context.Context, records []*domain.ImageRecord) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM boxes`); err != nil {
		return fmt.Errorf("while clearing boxes: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("while clearing images: %w", err)
	}
	for _, rec := range records {
		var reviewedAt sql.NullString
		if !rec.ReviewedAt.IsZero() {
			reviewedAt = sql.NullString{String: rec.ReviewedAt.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		_, err := r.db.ExecContext(ctx, `
INSERT INTO images (image_id, filename, width, height, review_status, reviewer_id, reviewed_at, dirty, next_box_id, next_order)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ImageID, rec.Filename, rec.Width, rec.Height, rec.ReviewStatus.String(), rec.ReviewerID,
			reviewedAt, rec.Dirty, rec.NextBoxID, rec.NextOrder)
		if err != nil {
			return fmt.Errorf("while saving image %s: %w", rec.ImageID, err)
		}
		if err := r.insertBoxes(ctx, rec.ImageID, kindWorking, rec.Boxes); err != nil {
			return err
		}
		if err := r.insertBoxes(ctx, rec.ImageID, kindCommitted, rec.Committed); err != nil {
			return err
		}
	}
	return nil
}

func (r *SessionRepository) insertBoxes(ctx context.Context, imageID, kind string, boxes []domain.BoundingBox) error {
	for _, b := range boxes {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO boxes (image_id, kind, box_id, created_order, x0, y0, x1, y1, tombstoned)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			imageID, kind, b.ID, b.CreatedOrder, b.Rect.X0, b.Rect.Y0, b.Rect.X1, b.Rect.Y1, b.Tombstoned)
		if err != nil {
			return fmt.Errorf("while saving %s box %d of %s: %w", kind, b.ID, imageID, err)
		}
	}
	return nil
}

const selectImages = `
SELECT image_id, filename, width, height, review_status, reviewer_id, reviewed_at, dirty, next_box_id, next_order
FROM images`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*domain.ImageRecord, error) {
	var (
		rec        domain.ImageRecord
		status     string
		reviewedAt sql.NullString
	)
	err := row.Scan(&rec.ImageID, &rec.Filename, &rec.Width, &rec.Height, &status, &rec.ReviewerID,
		&reviewedAt, &rec.Dirty, &rec.NextBoxID, &rec.NextOrder)
	if err != nil {
		return nil, err
	}
	if rec.ReviewStatus, err = domain.ParseReviewStatus(status); err != nil {
		return nil, fmt.Errorf("image %s: %w", rec.ImageID, err)
	}
	if reviewedAt.Valid {
		if rec.ReviewedAt, err = time.Parse(time.RFC3339Nano, reviewedAt.String); err != nil {
			return nil, fmt.Errorf("image %s: reviewed_at: %w", rec.ImageID, err)
		}
	}
	return &rec, nil
}

// loadBoxes attaches the boxes of the query result to the records by image id
func (r *SessionRepository) loadBoxes(ctx context.Context, byID map[string]*domain.ImageRecord, where string, args ...any) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT image_id, kind, box_id, created_order, x0, y0, x1, y1, tombstoned
FROM boxes `+where+`
ORDER BY image_id, kind, created_order, box_id`, args...)
	if err != nil {
		return fmt.Errorf("while querying boxes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			imageID, kind string
			b             domain.BoundingBox
			rect          geometry.Rect
		)
		err := rows.Scan(&imageID, &kind, &b.ID, &b.CreatedOrder, &rect.X0, &rect.Y0, &rect.X1, &rect.Y1, &b.Tombstoned)
		if err != nil {
			return err
		}
		b.Rect = rect
		rec, ok := byID[imageID]
		if !ok {
			continue
		}
		switch kind {
		case kindCommitted:
			rec.Committed = append(rec.Committed, b)
		default:
			rec.Boxes = append(rec.Boxes, b)
		}
	}
	return rows.Err()
}

// Load retrieves every stored record, ordered by image id
func (r *SessionRepository) Load(ctx context.Context) ([]*domain.ImageRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectImages+` ORDER BY image_id`)
	if err != nil {
		return nil, fmt.Errorf("while querying images: %w", err)
	}
	defer rows.Close()

	var result []*domain.ImageRecord
	byID := map[string]*domain.ImageRecord{}
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
		byID[rec.ImageID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadBoxes(ctx, byID, ""); err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves a single record, nil if absent
func (r *SessionRepository) Get(ctx context.Context, imageID string) (*domain.ImageRecord, error) {
	rec, err := scanImage(r.db.QueryRowContext(ctx, selectImages+` WHERE image_id = ?`, imageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	err = r.loadBoxes(ctx, map[string]*domain.ImageRecord{imageID: rec}, `WHERE image_id = ?`, imageID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Stats returns review progress counts
func (r *SessionRepository) Stats(ctx context.Context) (*domain.SessionStats, error) {
	var stats domain.SessionStats
	err := r.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN review_status = 'unreviewed' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN review_status = 'marked_correct' THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN review_status = 'accepted' THEN 1 ELSE 0 END), 0)
FROM images`).Scan(&stats.Images, &stats.Unreviewed, &stats.MarkedCorrect, &stats.Accepted)
	if err != nil {
		return nil, fmt.Errorf("while counting images: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM boxes WHERE kind = ? AND NOT tombstoned`, kindWorking).Scan(&stats.ActiveBoxes)
	if err != nil {
		return nil, fmt.Errorf("while counting boxes: %w", err)
	}
	return &stats, nil
}

// Verify that SessionRepository implements domain.SessionRepository
var _ domain.SessionRepository = (*SessionRepository)(nil)
