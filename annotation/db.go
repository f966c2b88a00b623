package annotation

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"

	"github.com/go-git/go-billy/v6/osfs"

	"github.com/lewtec/rotulador-bbox/internal/repository"
)

// GetDatabase opens the session database, applying pending migrations
func GetDatabase(filename string) (*sql.DB, error) {
	return repository.Open(filename)
}

// PrepareSession opens the configured database, restores the saved session
// and loads the images folder on top of it. The caller closes the returned db.
func PrepareSession(ctx context.Context, config *Config, presenter Presenter, logger *slog.Logger) (*Session, *sql.DB, error) {
	log.Printf("PrepareSession: opening database %s", config.Session.Database)
	db, err := GetDatabase(config.Session.Database)
	if err != nil {
		return nil, nil, err
	}
	session := NewSession(config, presenter, repository.NewSessionRepository(db), logger)

	log.Printf("PrepareSession: restoring saved session")
	if err := session.Restore(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("while restoring session: %w", err)
	}

	log.Printf("PrepareSession: scanning images folder %s", config.Session.ImagesDir)
	if _, err := session.LoadFolder(osfs.New(config.Session.ImagesDir), "."); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Printf("PrepareSession: success! %d images in session", session.Store.Len())
	return session, db, nil
}
