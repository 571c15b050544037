package codec

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestPadToMultipleOf16(t *testing.T) {
	cases := map[int]int{
		0:   0,
		1:   16,
		15:  16,
		16:  16,
		17:  32,
		320: 320,
		321: 336,
	}
	for in, want := range cases {
		if got := padToMultipleOf16(in); got != want {
			t.Errorf("padToMultipleOf16(%d) = %d, want %d", in, got, want)
		}
	}
}

func writeTestJPEG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "in.jpg")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestConvertToBaseline_PadsNonMultipleDimensions(t *testing.T) {
	inPath := writeTestJPEG(t, 300, 200) // 300 -> 304, 200 -> 208
	outPath := filepath.Join(filepath.Dir(inPath), "out.jpg")

	if err := ConvertToBaseline(context.Background(), ConvertOptions{}, inPath, outPath); err != nil {
		t.Fatalf("ConvertToBaseline: %v", err)
	}

	out, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	cfg, _, err := image.DecodeConfig(out)
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	if cfg.Width != 304 || cfg.Height != 208 {
		t.Errorf("got %dx%d, want 304x208", cfg.Width, cfg.Height)
	}
}

func TestConvertToBaseline_AlreadyAligned(t *testing.T) {
	inPath := writeTestJPEG(t, 320, 160)
	outPath := filepath.Join(filepath.Dir(inPath), "out.jpg")

	if err := ConvertToBaseline(context.Background(), ConvertOptions{}, inPath, outPath); err != nil {
		t.Fatalf("ConvertToBaseline: %v", err)
	}

	out, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer out.Close()
	cfg, _, err := image.DecodeConfig(out)
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 160 {
		t.Errorf("got %dx%d, want 320x160", cfg.Width, cfg.Height)
	}
}
