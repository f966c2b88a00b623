package codec

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

// VOCAnnotation is a Pascal VOC file as written by labelImg
type VOCAnnotation struct {
	XMLName  xml.Name    `xml:"annotation"`
	Folder   string      `xml:"folder"`
	Filename string      `xml:"filename"`
	Size     VOCSize     `xml:"size"`
	Objects  []VOCObject `xml:"object"`
}

type VOCSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

type VOCObject struct {
	Name      string    `xml:"name"`
	Difficult int       `xml:"difficult"`
	BndBox    VOCBndBox `xml:"bndbox"`
}

// VOCBndBox coordinates are pixels. Some tools write fractional values.
type VOCBndBox struct {
	XMin float64 `xml:"xmin"`
	YMin float64 `xml:"ymin"`
	XMax float64 `xml:"xmax"`
	YMax float64 `xml:"ymax"`
}

// ParseVOC decodes one labelImg XML file
func ParseVOC(r io.Reader) (*VOCAnnotation, error) {
	var ann VOCAnnotation
	if err := xml.NewDecoder(r).Decode(&ann); err != nil {
		return nil, fmt.Errorf("while decoding VOC annotation: %w: %w", domain.ErrSchemaMismatch, err)
	}
	if ann.Filename == "" {
		return nil, fmt.Errorf("VOC annotation without filename: %w", domain.ErrSchemaMismatch)
	}
	return &ann, nil
}

// ImageID derives the image identity from the annotated file name
func (a *VOCAnnotation) ImageID() string {
	return ImageIDFromFilename(a.Filename)
}

// ImageIDFromFilename strips directories and the extension from a file name
func ImageIDFromFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// ImportVOC adds the boxes of labelImg files to images already in the
// session. Files for unknown images are reported in Skipped. Objects whose
// name differs from label are dropped unless label is empty.
func ImportVOC(tx Tx, anns []*VOCAnnotation, mode Mode, label string) (*ImportReport, error) {
	report := &ImportReport{Mode: mode}
	for _, ann := range anns {
		id := ann.ImageID()
		rec, ok := tx.Get(id)
		if !ok {
			report.Skipped = append(report.Skipped, ann.Filename)
			continue
		}
		report.ImagesUpdated++
		width, height := ann.Size.Width, ann.Size.Height
		if width <= 0 || height <= 0 {
			width, height = rec.Width, rec.Height
		}
		if width <= 0 || height <= 0 {
			return nil, fmt.Errorf("VOC annotation for %s has no image size: %w", id, domain.ErrSchemaMismatch)
		}
		if !rec.HasDimensions() {
			rec.Width, rec.Height = width, height
		}
		var rects []geometry.Rect
		for _, obj := range ann.Objects {
			if label != "" && obj.Name != label {
				report.BoxesSkipped++
				continue
			}
			w, h := float64(width), float64(height)
			rect, err := geometry.New(obj.BndBox.XMin/w, obj.BndBox.YMin/h, obj.BndBox.XMax/w, obj.BndBox.YMax/h)
			if err != nil {
				report.BoxesSkipped++
				continue
			}
			rects = append(rects, rect)
		}
		applyRects(rec, rects, mode, report)
	}
	return report, nil
}
