package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kstaniek/ssdv-link/internal/codec"
)

// runEncode implements `encode --image <in.jpg> --ssdv <out.ssdv>`
// (spec.md §6.2): invokes the external SSDV codec, out of scope for this
// repo's own correctness.
func runEncode(args []string) error {
	fs := pflag.NewFlagSet("encode", pflag.ContinueOnError)
	image := fs.String("image", "", "Input JPEG image path")
	ssdv := fs.String("ssdv", "", "Output SSDV file path")
	tool := fs.String("tool", "", "External ssdv binary path (default: ssdv on $PATH)")
	callsign := fs.String("callsign", "", "Amateur radio callsign to embed")
	imageID := fs.Int("id", 0, "SSDV image ID (0-255)")
	quality := fs.Int("quality", 0, "JPEG re-encode quality passed to ssdv -q")
	packetLen := fs.Int("packet-len", 0, "SSDV packet length passed to ssdv -l")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *image == "" || *ssdv == "" {
		return fmt.Errorf("encode: --image and --ssdv are required")
	}

	opt := codec.EncodeOptions{
		Tool:      *tool,
		Callsign:  *callsign,
		ImageID:   *imageID,
		Quality:   *quality,
		PacketLen: *packetLen,
	}
	if err := codec.EncodeImage(context.Background(), opt, *image, *ssdv); err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")
	return nil
}
