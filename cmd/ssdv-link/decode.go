package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kstaniek/ssdv-link/internal/codec"
)

// runDecode implements `decode --ssdv <in.ssdv> --output <out.jpg>`
// (spec.md §6.2): invokes the external SSDV codec.
func runDecode(args []string) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	ssdv := fs.String("ssdv", "", "Input SSDV file path")
	output := fs.String("output", "", "Output JPEG image path")
	tool := fs.String("tool", "", "External ssdv binary path (default: ssdv on $PATH)")
	packetLen := fs.Int("packet-len", 0, "SSDV packet length passed to ssdv -l")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ssdv == "" || *output == "" {
		return fmt.Errorf("decode: --ssdv and --output are required")
	}

	opt := codec.DecodeOptions{Tool: *tool, PacketLen: *packetLen}
	if err := codec.DecodeSSDV(context.Background(), opt, *ssdv, *output); err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")
	return nil
}
