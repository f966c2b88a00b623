package domain

import "errors"

var (
	// ErrNotFound is returned for unknown image or box ids
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an action is not allowed in the current review state
	ErrInvalidState = errors.New("invalid state")
	// ErrStaleHandle marks an overlay handle whose generation is no longer current. Never fatal.
	ErrStaleHandle = errors.New("stale overlay handle")
	// ErrImportConflict is reported when an import overwrote differing content
	ErrImportConflict = errors.New("import conflict")
	// ErrSchemaMismatch is returned for unreadable or unsupported interchange documents
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrPersistenceIO wraps file and database failures
	ErrPersistenceIO = errors.New("persistence io")
)
