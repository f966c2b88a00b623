// Package report renders the review progress of a session as an HTML page.
package report

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"sync"
	"time"

	"github.com/abiosoft/mold"
	"github.com/russross/blackfriday/v2"

	"github.com/lewtec/rotulador-bbox/internal/codec"
	"github.com/lewtec/rotulador-bbox/internal/domain"
)

//go:embed templates/*
var templateFS embed.FS

// FuncMap contains the functions available to the report templates
var FuncMap = template.FuncMap{
	"markdown": func(text string) template.HTML {
		return template.HTML(blackfriday.Run([]byte(text)))
	},
	"percent": func(part, total int) string {
		if total == 0 {
			return "0%"
		}
		return fmt.Sprintf("%.0f%%", float64(part)*100/float64(total))
	},
}

var engine = sync.OnceValues(func() (mold.Engine, error) {
	return mold.New(templateFS, mold.WithRoot("templates"), mold.WithLayout("layout.html"), mold.WithFuncMap(FuncMap))
})

// Options control the report header
type Options struct {
	Title       string
	Description string // markdown
	Filter      codec.Filter
	ClassLabel  string
	GeneratedAt time.Time
}

// Summary counts images per review status
type Summary struct {
	Images        int
	Unreviewed    int
	MarkedCorrect int
	Accepted      int
	ActiveBoxes   int
	Exportable    int
}

// Row is one image line of the report
type Row struct {
	ImageID    string
	Filename   string
	Status     string
	Boxes      int
	Reviewer   string
	ReviewedAt string
	Dirty      bool
}

// Summarize counts records. Exportable follows the training export filter.
func Summarize(records []*domain.ImageRecord, filter codec.Filter) Summary {
	var s Summary
	for _, rec := range records {
		s.Images++
		active := len(rec.ActiveBoxes())
		s.ActiveBoxes += active
		switch rec.ReviewStatus {
		case domain.Accepted:
			s.Accepted++
		case domain.MarkedCorrect:
			s.MarkedCorrect++
		default:
			s.Unreviewed++
		}
		switch filter {
		case codec.All:
			if active > 0 {
				s.Exportable++
			}
		default:
			if rec.ReviewStatus == domain.Accepted {
				s.Exportable++
			}
		}
	}
	return s
}

// Rows builds the table lines in record order
func Rows(records []*domain.ImageRecord) []Row {
	ret := make([]Row, 0, len(records))
	for _, rec := range records {
		row := Row{
			ImageID:  rec.ImageID,
			Filename: rec.Filename,
			Status:   rec.ReviewStatus.String(),
			Boxes:    len(rec.ActiveBoxes()),
			Reviewer: rec.ReviewerID,
			Dirty:    rec.Dirty,
		}
		if !rec.ReviewedAt.IsZero() {
			row.ReviewedAt = rec.ReviewedAt.Format(time.RFC3339)
		}
		ret = append(ret, row)
	}
	return ret
}

// Render writes the HTML report of the records
func Render(w io.Writer, records []*domain.ImageRecord, opts Options) error {
	e, err := engine()
	if err != nil {
		return fmt.Errorf("while loading report templates: %w", err)
	}
	if opts.Title == "" {
		opts.Title = "Annotation review"
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	data := map[string]any{
		"Title":       opts.Title,
		"Description": opts.Description,
		"Filter":      opts.Filter.String(),
		"ClassLabel":  opts.ClassLabel,
		"Generator":   codec.Generator,
		"GeneratedAt": opts.GeneratedAt.Format(time.RFC3339),
		"Summary":     Summarize(records, opts.Filter),
		"Rows":        Rows(records),
	}
	if err := e.Render(w, "report.html", data); err != nil {
		return fmt.Errorf("while rendering report: %w", err)
	}
	return nil
}
