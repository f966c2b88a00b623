package annotation

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v6"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lewtec/rotulador-bbox/internal/codec"
	"github.com/lewtec/rotulador-bbox/internal/domain"
)

// ImageIDFromPath derives the image id from a file name: the base name
// without its extension, so the id survives moving the file or converting it.
func ImageIDFromPath(p string) string {
	return codec.ImageIDFromFilename(p)
}

// DecodeImageConfig reads the pixel size of an image without decoding it
func DecodeImageConfig(fs billy.Filesystem, filename string) (image.Config, error) {
	f, err := fs.Open(filename)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}

// ScanFolder lists the images of a flat folder. Files sharing an image id
// keep the first name in sorted order.
func ScanFolder(fs billy.Filesystem, dir string, extensions []string) ([]domain.ImageInfo, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("while listing images folder '%s': %w: %w", dir, domain.ErrPersistenceIO, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !slices.Contains(extensions, strings.ToLower(path.Ext(name))) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	seen := map[string]string{}
	var ret []domain.ImageInfo
	for _, name := range names {
		id := ImageIDFromPath(name)
		if first, ok := seen[id]; ok {
			log.Printf("ScanFolder: skipping '%s': image id '%s' already taken by '%s'", name, id, first)
			continue
		}
		seen[id] = name
		cfg, err := DecodeImageConfig(fs, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("while checking if item '%s' is an image: %w", name, err)
		}
		ret = append(ret, domain.ImageInfo{
			ImageID:  id,
			Filename: name,
			Width:    cfg.Width,
			Height:   cfg.Height,
		})
	}
	return ret, nil
}
