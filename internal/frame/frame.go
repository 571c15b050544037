// Package frame implements the on-wire data-frame encoding and the
// streaming deframer: sync markers, length-prefixed payload, CRC16 trailer,
// and byte-level resynchronisation on a noisy stream.
package frame

import (
	"bytes"
	"fmt"

	"github.com/kstaniek/ssdv-link/internal/crc16"
	"github.com/kstaniek/ssdv-link/internal/protoerr"
)

// MaxPayloadSize is the strict upper bound on a single frame's payload.
const MaxPayloadSize = 255

// DefaultMaxBuffer is the recommended cap on the deframer's internal
// accumulation buffer (spec.md §4.1: "recommended 2 KiB").
const DefaultMaxBuffer = 2048

// SyncStart and SyncEnd are the two-byte literal markers bounding every
// data frame (spec.md §3). Exported so callers that need to detect sync
// on a raw stream without a full Deframer (e.g. the receiver's initial
// WAITING_SYNC scan) don't have to duplicate the literal bytes.
var (
	SyncStart = []byte{0x55, 0xAA}
	SyncEnd   = []byte{0xAA, 0x55}

	syncStart = SyncStart
	syncEnd   = SyncEnd
)

// Frame is a decoded logical packet: a sequence number and its payload.
type Frame struct {
	Seq     byte
	Payload []byte
}

// Encode renders (seq, payload) as wire bytes: sync_start, seq, len,
// payload, crc16 (little-endian), sync_end.
func Encode(seq byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("frame: payload %d bytes exceeds max %d: %w", len(payload), MaxPayloadSize, protoerr.ErrProgramming)
	}
	out := make([]byte, 0, 2+2+len(payload)+2+2)
	out = append(out, syncStart...)
	out = append(out, seq, byte(len(payload)))
	out = append(out, payload...)
	crc := crc16.Checksum(out[2 : 4+len(payload)])
	out = append(out, byte(crc), byte(crc>>8))
	out = append(out, syncEnd...)
	return out, nil
}

// Status classifies the result of one TryExtractOne call.
type Status int

const (
	// StatusFrame means a valid Frame was extracted.
	StatusFrame Status = iota
	// StatusCorrupt means a candidate frame failed length or CRC
	// validation and was discarded; the buffer advanced past the
	// offending sync_start by exactly one byte.
	StatusCorrupt
	// StatusIncomplete means not enough data is buffered yet to decide;
	// call again after feeding more bytes.
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusFrame:
		return "frame"
	case StatusCorrupt:
		return "corrupt"
	case StatusIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Deframer holds the rolling byte buffer fed by the link and extracts
// frames from it one at a time. It is not safe for concurrent use; each
// role owns exactly one deframer per session, matching §3's ownership
// rule ("The Framer holds no state beyond a rolling deframer buffer").
type Deframer struct {
	buf      []byte
	maxBuf   int
	Corrupt  uint64 // frames rejected by length/CRC mismatch
	Overflow uint64 // times the buffer was force-trimmed for growing unbounded
	Dropped  uint64 // noise bytes discarded while resynchronising
}

// NewDeframer creates a Deframer with the given buffer cap; a cap of 0
// selects DefaultMaxBuffer.
func NewDeframer(maxBuf int) *Deframer {
	if maxBuf <= 0 {
		maxBuf = DefaultMaxBuffer
	}
	return &Deframer{maxBuf: maxBuf}
}

// Feed appends newly-read link bytes to the rolling buffer, enforcing the
// configured cap.
func (d *Deframer) Feed(data []byte) {
	d.buf = append(d.buf, data...)
	for len(d.buf) > d.maxBuf {
		half := len(d.buf) / 2
		trimmed := make([]byte, len(d.buf)-half)
		copy(trimmed, d.buf[half:])
		d.buf = trimmed
		d.Overflow++
		d.Corrupt++
	}
}

// Buffered returns the number of bytes currently held, for diagnostics.
func (d *Deframer) Buffered() int { return len(d.buf) }

// TryExtractOne attempts to pull one frame out of the buffer. See
// spec.md §4.1 for the algorithm; this is a direct translation. The
// length byte immediately following sync_start is authoritative for
// where the frame ends: sync_end is only ever used to confirm a
// candidate frame, never searched for blindly, since a payload may
// legally contain byte pairs that look like either sync marker.
func (d *Deframer) TryExtractOne() (Frame, Status) {
	idx := bytes.Index(d.buf, syncStart)
	if idx < 0 {
		if len(d.buf) > 1 {
			d.Dropped += uint64(len(d.buf) - 1)
			d.buf = d.buf[len(d.buf)-1:]
		}
		return Frame{}, StatusIncomplete
	}
	if idx > 0 {
		d.Dropped += uint64(idx)
		d.buf = d.buf[idx:]
	}

	// Need sync_start(2) + seq(1) + len(1) before the length byte is known.
	if len(d.buf) < 4 {
		return Frame{}, StatusIncomplete
	}
	plen := int(d.buf[3])
	total := 8 + plen // sync_start + seq + len + payload + crc16 + sync_end
	if len(d.buf) < total {
		return Frame{}, StatusIncomplete
	}

	seq := d.buf[2]
	payload := d.buf[4 : 4+plen]
	wantCRC := uint16(d.buf[4+plen]) | uint16(d.buf[5+plen])<<8
	end := d.buf[6+plen : 8+plen]

	if !bytes.Equal(end, syncEnd) {
		d.Corrupt++
		d.buf = d.buf[1:] // one-byte slip past the rejected sync_start
		return Frame{}, StatusCorrupt
	}

	body := d.buf[2 : 4+plen]
	if gotCRC := crc16.Checksum(body); gotCRC != wantCRC {
		d.Corrupt++
		d.buf = d.buf[1:]
		return Frame{}, StatusCorrupt
	}

	out := make([]byte, plen)
	copy(out, payload)
	fr := Frame{Seq: seq, Payload: out}
	d.buf = d.buf[total:]
	return fr, StatusFrame
}

// Drain repeatedly extracts frames, invoking onFrame for each valid one and
// onCorrupt (if non-nil) for each rejected one, until the buffer yields
// only StatusIncomplete.
func (d *Deframer) Drain(onFrame func(Frame), onCorrupt func()) {
	for {
		fr, status := d.TryExtractOne()
		switch status {
		case StatusFrame:
			onFrame(fr)
		case StatusCorrupt:
			if onCorrupt != nil {
				onCorrupt()
			}
		case StatusIncomplete:
			return
		}
	}
}
