// Package crops cuts the exported boxes out of their images, one file per box.
package crops

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-git/go-billy/v6"

	"github.com/lewtec/rotulador-bbox/internal/codec"
)

// Options controls the crop output
type Options struct {
	// MaxSize bounds the longest side of each crop, 0 keeps the original size
	MaxSize int
	// Format is "png" (default) or "jpg"
	Format string
	// Quality is the JPEG quality, 0 means 90
	Quality int
}

// Result lists the written files
type Result struct {
	Files   []string
	Skipped int
}

func (o Options) format() (imaging.Format, string, error) {
	switch strings.ToLower(o.Format) {
	case "", "png":
		return imaging.PNG, "png", nil
	case "jpg", "jpeg":
		return imaging.JPEG, "jpg", nil
	}
	return 0, "", fmt.Errorf("unknown crop format %q", o.Format)
}

// scaleRect maps a box given for a width x height image onto bounds.
// Unknown dimensions take the decoded size.
func scaleRect(b codec.TrainingBox, width, height int, bounds image.Rectangle) image.Rectangle {
	if width <= 0 || height <= 0 {
		width, height = bounds.Dx(), bounds.Dy()
	}
	sx := float64(bounds.Dx()) / float64(width)
	sy := float64(bounds.Dy()) / float64(height)
	r := image.Rect(
		bounds.Min.X+int(float64(b.X0)*sx+0.5),
		bounds.Min.Y+int(float64(b.Y0)*sy+0.5),
		bounds.Min.X+int(float64(b.X1)*sx+0.5),
		bounds.Min.Y+int(float64(b.Y1)*sy+0.5),
	)
	return r.Intersect(bounds)
}

// FileName is the crop file name of the i-th box of an image
func FileName(imageID string, i int, ext string) string {
	return fmt.Sprintf("%s_%03d.%s", imageID, i, ext)
}

// Export decodes each record's image from images and writes every box as
// its own file under dir in out. Boxes that end up empty after scaling are
// skipped.
func Export(images, out billy.Filesystem, dir string, records []codec.TrainingRecord, opts Options, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	format, ext, err := opts.format()
	if err != nil {
		return nil, err
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = 90
	}
	result := &Result{}
	for _, rec := range records {
		if len(rec.Boxes) == 0 {
			continue
		}
		img, err := decode(images, rec.Filename)
		if err != nil {
			return result, fmt.Errorf("while decoding %s: %w", rec.Filename, err)
		}
		for i, b := range rec.Boxes {
			rect := scaleRect(b, rec.Width, rec.Height, img.Bounds())
			if rect.Empty() {
				logger.Warn("skipping empty crop", "image_id", rec.ImageID, "box", i)
				result.Skipped++
				continue
			}
			cropped := imaging.Crop(img, rect)
			if opts.MaxSize > 0 && (cropped.Bounds().Dx() > opts.MaxSize || cropped.Bounds().Dy() > opts.MaxSize) {
				cropped = imaging.Fit(cropped, opts.MaxSize, opts.MaxSize, imaging.Lanczos)
			}
			name := path.Join(dir, FileName(rec.ImageID, i, ext))
			err := codec.WriteFileAtomic(out, name, func(w io.Writer) error {
				return imaging.Encode(w, cropped, format, imaging.JPEGQuality(quality))
			})
			if err != nil {
				return result, fmt.Errorf("while writing crop %s: %w", name, err)
			}
			result.Files = append(result.Files, name)
		}
		logger.Debug("image cropped", "image_id", rec.ImageID, "boxes", len(rec.Boxes))
	}
	return result, nil
}

func decode(fs billy.Filesystem, filename string) (image.Image, error) {
	if filename == "" {
		return nil, fmt.Errorf("record has no file name")
	}
	f, err := fs.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imaging.Decode(f, imaging.AutoOrientation(true))
}
