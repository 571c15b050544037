package codec

import (
	"context"
	"strconv"
)

// DefaultSSDVTool is the external codec binary name assumed to be on
// $PATH, matching original_source/modules/encode_decode.py's "./ssdv".
const DefaultSSDVTool = "ssdv"

// EncodeOptions mirrors the flags original_source/modules/encode_decode.py
// passes to the external encoder.
type EncodeOptions struct {
	Tool      string // external binary path; DefaultSSDVTool if empty
	Callsign  string // -c
	ImageID   int    // -i
	Quality   int    // -q
	PacketLen int    // -l, MAX_PAYLOAD_SIZE-compatible SSDV packet length
}

func (o EncodeOptions) tool() string {
	if o.Tool == "" {
		return DefaultSSDVTool
	}
	return o.Tool
}

// EncodeImage shells out to the external SSDV encoder: imagePath -> ssdvPath.
func EncodeImage(ctx context.Context, opt EncodeOptions, imagePath, ssdvPath string) error {
	args := []string{"-e"}
	if opt.Callsign != "" {
		args = append(args, "-c", opt.Callsign)
	}
	if opt.ImageID != 0 {
		args = append(args, "-i", strconv.Itoa(opt.ImageID))
	}
	if opt.Quality != 0 {
		args = append(args, "-q", strconv.Itoa(opt.Quality))
	}
	if opt.PacketLen != 0 {
		args = append(args, "-l", strconv.Itoa(opt.PacketLen))
	}
	args = append(args, imagePath, ssdvPath)
	return runExternal(ctx, opt.tool(), args...)
}

// DecodeOptions mirrors the flags original_source/modules/encode_decode.py
// passes to the external decoder.
type DecodeOptions struct {
	Tool      string
	PacketLen int
}

func (o DecodeOptions) tool() string {
	if o.Tool == "" {
		return DefaultSSDVTool
	}
	return o.Tool
}

// DecodeSSDV shells out to the external SSDV decoder: ssdvPath -> imagePath.
func DecodeSSDV(ctx context.Context, opt DecodeOptions, ssdvPath, imagePath string) error {
	args := []string{"-d"}
	if opt.PacketLen != 0 {
		args = append(args, "-l", strconv.Itoa(opt.PacketLen))
	}
	args = append(args, ssdvPath, imagePath)
	return runExternal(ctx, opt.tool(), args...)
}

