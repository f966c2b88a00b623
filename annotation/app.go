package annotation

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"os"
	"path"

	"github.com/go-git/go-billy/v6"

	"github.com/lewtec/rotulador-bbox/internal/report"
)

// AnnotatorApp serves the review session over HTTP
type AnnotatorApp struct {
	Session *Session
	// Images holds the image files named by the records
	Images billy.Filesystem
	// Files is the root for import and export file names, nil disables them
	Files billy.Filesystem
	// Events is mounted on /ws when set
	Events http.Handler
}

func (a *AnnotatorApp) GetHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", NewAPIHandler(a.Session, a.Files))

	mux.HandleFunc("GET /asset/{id}", func(w http.ResponseWriter, r *http.Request) {
		imageID := r.PathValue("id")
		rec, err := a.Session.Store.Get(imageID)
		if err != nil || rec.Filename == "" {
			log.Printf("http: asset id %s was not found in the session", imageID)
			http.NotFoundHandler().ServeHTTP(w, r)
			return
		}
		f, err := a.Images.Open(rec.Filename)
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
			http.NotFoundHandler().ServeHTTP(w, r)
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while serving image asset: %s", err)
			return
		}
		defer f.Close()
		if ct := mime.TypeByExtension(path.Ext(rec.Filename)); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		io.Copy(w, f)
	})

	if a.Events != nil {
		mux.Handle("GET /ws", a.Events)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		snap := a.Session.Store.Snapshot()
		cfg := a.Session.Config
		var buf bytes.Buffer
		err := report.Render(&buf, snap.Records, report.Options{
			Description: cfg.Meta.Description,
			Filter:      cfg.ExportFilter(),
			ClassLabel:  cfg.Export.ClassLabel,
			GeneratedAt: snap.TakenAt,
		})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			log.Printf("error: http: while rendering report: %s", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		buf.WriteTo(w)
	})

	log.Printf("http: serving %d images", a.Session.Store.Len())

	var handler http.Handler = mux
	handler = HTTPLogger(handler)
	return handler
}
