package domain

import "context"

// SessionStats provides counts about a saved session
type SessionStats struct {
	Images        int64
	Unreviewed    int64
	MarkedCorrect int64
	Accepted      int64
	ActiveBoxes   int64
}

// SessionRepository defines the interface for persisting annotation sessions
type SessionRepository interface {
	// Save replaces the stored session with the given records
	Save(ctx context.Context, records []*ImageRecord) error

	// Load retrieves every stored record, ordered by image id
	Load(ctx context.Context) ([]*ImageRecord, error)

	// Get retrieves a single record, nil if absent
	Get(ctx context.Context, imageID string) (*ImageRecord, error)

	// Stats returns review progress counts
	Stats(ctx context.Context) (*SessionStats, error)
}
