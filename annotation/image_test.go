package annotation

import (
	"image"
	"image/color"
	"image/png"
	"path"
	"testing"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
)

func writePNG(t *testing.T, fs billy.Filesystem, name string, width, height int) {
	t.Helper()
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	f, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
}

func sampleFolder(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	writePNG(t, fs, "images/a.png", 200, 100)
	writePNG(t, fs, "images/b.png", 40, 30)
	writeFile(t, fs, "images/b.webp", "not decoded, id already taken")
	writeFile(t, fs, "images/readme.txt", "not an image")
	writeFile(t, fs, "images/.c.png", "hidden")
	writePNG(t, fs, "images/nested/d.png", 10, 10)
	return fs
}

func TestImageIDFromPath(t *testing.T) {
	tests := map[string]string{
		"a.png":                "a",
		"dir/photo.final.jpeg": "photo.final",
		"noext":                "noext",
	}
	for in, want := range tests {
		if got := ImageIDFromPath(in); got != want {
			t.Errorf("ImageIDFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScanFolder(t *testing.T) {
	fs := sampleFolder(t)
	infos, err := ScanFolder(fs, "images", nil)
	if err != nil {
		t.Fatalf("ScanFolder() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("ScanFolder() = %+v, want a and b", infos)
	}
	if infos[0].ImageID != "a" || infos[0].Width != 200 || infos[0].Height != 100 {
		t.Errorf("infos[0] = %+v", infos[0])
	}
	if infos[1].ImageID != "b" || infos[1].Filename != "b.png" {
		t.Errorf("infos[1] = %+v", infos[1])
	}

	t.Run("extension filter", func(t *testing.T) {
		infos, err := ScanFolder(fs, "images", []string{".jpg"})
		if err != nil {
			t.Fatal(err)
		}
		if len(infos) != 0 {
			t.Errorf("ScanFolder() = %+v, want none", infos)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		if _, err := ScanFolder(fs, "nope", nil); err == nil {
			t.Error("expected error for a missing folder")
		}
	})

	t.Run("broken image", func(t *testing.T) {
		writeFile(t, fs, "images/e.png", "garbage")
		if _, err := ScanFolder(fs, "images", nil); err == nil {
			t.Error("expected error for an undecodable image")
		}
	})
}
