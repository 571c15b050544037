package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kstaniek/ssdv-link/internal/codec"
)

// runConvert implements `convert --image <in.jpg> --output <out.jpg>`
// (spec.md §6.2): pads dimensions to a multiple of 16 and re-encodes as
// baseline, non-progressive JPEG at quality 100.
func runConvert(args []string) error {
	fs := pflag.NewFlagSet("convert", pflag.ContinueOnError)
	image := fs.String("image", "", "Input JPEG image path")
	output := fs.String("output", "", "Output JPEG image path")
	tool := fs.String("tool", "", "External ImageMagick-style binary (default: use image/jpeg directly)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *image == "" || *output == "" {
		return fmt.Errorf("convert: --image and --output are required")
	}

	opt := codec.ConvertOptions{Tool: *tool}
	if err := codec.ConvertToBaseline(context.Background(), opt, *image, *output); err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")
	return nil
}
