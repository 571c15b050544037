package codec

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
)

// BaselineQuality matches original_source/modules/convert_to_baseline.py's
// "-quality 100".
const BaselineQuality = 100

// ConvertOptions configures ConvertToBaseline.
type ConvertOptions struct {
	// Tool, if set, shells out to an external ImageMagick-style binary
	// (e.g. "convert") instead of using the image/jpeg codec built in.
	Tool string
}

// ConvertToBaseline pads an image's dimensions up to a multiple of 16 by
// centering it over a black canvas, then re-encodes as baseline,
// non-progressive JPEG at BaselineQuality. The padding arithmetic
// (ceil(dim/16)*16) is taken from
// original_source/modules/convert_to_baseline.py, which instead
// resizes (stretches) the image to the padded dimensions; this repo
// letterboxes onto black instead, since stretching loses the aspect ratio
// SSDV transmission is meant to preserve.
func ConvertToBaseline(ctx context.Context, opt ConvertOptions, inPath, outPath string) error {
	if opt.Tool != "" {
		w, h, err := paddedDimensions(inPath)
		if err != nil {
			return err
		}
		return runExternal(ctx, opt.Tool, inPath,
			"-background", "black",
			"-gravity", "center",
			"-extent", fmt.Sprintf("%dx%d", w, h),
			"-quality", "100",
			"-interlace", "none",
			outPath)
	}
	return convertWithStdlib(inPath, outPath)
}

func paddedDimensions(inPath string) (int, int, error) {
	f, err := os.Open(inPath)
	if err != nil {
		return 0, 0, fmt.Errorf("convert: open %s: %w", inPath, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("convert: decode config %s: %w", inPath, err)
	}
	return padToMultipleOf16(cfg.Width), padToMultipleOf16(cfg.Height), nil
}

// padToMultipleOf16 implements ceil(dim/16)*16.
func padToMultipleOf16(dim int) int {
	return (dim + 15) / 16 * 16
}

func convertWithStdlib(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("convert: open %s: %w", inPath, err)
	}
	defer in.Close()
	src, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("convert: decode %s: %w", inPath, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	newW, newH := padToMultipleOf16(w), padToMultipleOf16(h)

	var dst draw.Image
	if newW == w && newH == h {
		dst = image.NewRGBA(bounds)
		draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	} else {
		canvas := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
		offsetX := (newW - w) / 2
		offsetY := (newH - h) / 2
		target := image.Rect(offsetX, offsetY, offsetX+w, offsetY+h)
		draw.Draw(canvas, target, src, bounds.Min, draw.Src)
		dst = canvas
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("convert: create %s: %w", outPath, err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: BaselineQuality}); err != nil {
		return fmt.Errorf("convert: encode %s: %w", outPath, err)
	}
	return nil
}
