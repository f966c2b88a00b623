package crops

import (
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"

	"github.com/lewtec/rotulador-bbox/internal/codec"
)

func writePNG(t *testing.T, fs billy.Filesystem, name string, width, height int) {
	t.Helper()
	f, err := fs.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func readImage(t *testing.T, fs billy.Filesystem, name string) image.Image {
	t.Helper()
	f, err := fs.Open(name)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", name, err)
	}
	defer f.Close()
	img, err := imaging.Decode(f)
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", name, err)
	}
	return img
}

func TestScaleRect(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	tests := []struct {
		name          string
		box           codec.TrainingBox
		width, height int
		want          image.Rectangle
	}{
		{"same size", codec.TrainingBox{X0: 10, Y0: 5, X1: 30, Y1: 25}, 100, 50, image.Rect(10, 5, 30, 25)},
		{"half size", codec.TrainingBox{X0: 10, Y0: 5, X1: 30, Y1: 25}, 50, 25, image.Rect(20, 10, 60, 50)},
		{"clipped", codec.TrainingBox{X0: 90, Y0: 40, X1: 120, Y1: 60}, 100, 50, image.Rect(90, 40, 100, 50)},
		{"unknown size", codec.TrainingBox{X0: 1, Y0: 2, X1: 3, Y1: 4}, 0, 0, image.Rect(1, 2, 3, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scaleRect(tt.box, tt.width, tt.height, bounds); got != tt.want {
				t.Errorf("scaleRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExport(t *testing.T) {
	images := memfs.New()
	writePNG(t, images, "cat.png", 100, 50)
	writePNG(t, images, "dog.png", 20, 20)
	out := memfs.New()

	records := []codec.TrainingRecord{
		{ImageID: "cat", Filename: "cat.png", Width: 100, Height: 50, Label: "object", Boxes: []codec.TrainingBox{
			{X0: 10, Y0: 5, X1: 30, Y1: 25},
			{X0: 100, Y0: 50, X1: 120, Y1: 60},
			{X0: 0, Y0: 0, X1: 100, Y1: 50},
		}},
		{ImageID: "empty", Filename: "missing.png", Width: 10, Height: 10},
		{ImageID: "dog", Filename: "dog.png", Width: 20, Height: 20, Boxes: []codec.TrainingBox{
			{X0: 0, Y0: 0, X1: 10, Y1: 10},
		}},
	}

	result, err := Export(images, out, "crops", records, Options{}, nil)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	want := []string{"crops/cat_000.png", "crops/cat_002.png", "crops/dog_000.png"}
	if len(result.Files) != len(want) {
		t.Fatalf("Files = %v, want %v", result.Files, want)
	}
	for i := range want {
		if result.Files[i] != want[i] {
			t.Errorf("Files[%d] = %s, want %s", i, result.Files[i], want[i])
		}
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}

	crop := readImage(t, out, "crops/cat_000.png")
	if crop.Bounds().Dx() != 20 || crop.Bounds().Dy() != 20 {
		t.Errorf("crop size = %v, want 20x20", crop.Bounds())
	}
	r, g, _, _ := crop.At(0, 0).RGBA()
	if r>>8 != 10 || g>>8 != 5 {
		t.Errorf("crop origin pixel = (%d, %d), want (10, 5)", r>>8, g>>8)
	}

	entries, err := out.ReadDir("crops")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("crops folder has %d entries, want 3 and no temp files", len(entries))
	}

	t.Run("max size", func(t *testing.T) {
		out := memfs.New()
		_, err := Export(images, out, ".", records[:1], Options{MaxSize: 10, Format: "jpg"}, nil)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		full := readImage(t, out, "cat_002.jpg")
		if full.Bounds().Dx() != 10 || full.Bounds().Dy() != 5 {
			t.Errorf("resized crop = %v, want 10x5", full.Bounds())
		}
		small := readImage(t, out, "cat_000.jpg")
		if small.Bounds().Dx() != 10 {
			t.Errorf("resized crop = %v, want width 10", small.Bounds())
		}
	})

	t.Run("missing image", func(t *testing.T) {
		bad := []codec.TrainingRecord{{ImageID: "x", Filename: "x.png", Boxes: []codec.TrainingBox{{X1: 1, Y1: 1}}}}
		if _, err := Export(images, memfs.New(), ".", bad, Options{}, nil); err == nil {
			t.Error("expected error for a missing image")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, err := Export(images, memfs.New(), ".", records, Options{Format: "gif2"}, nil); err == nil {
			t.Error("expected error for an unknown format")
		}
	})
}
