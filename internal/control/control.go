// Package control encodes and decodes the two out-of-band batch-verdict
// messages exchanged on the reverse byte stream: ACK and NAK. Unlike data
// frames these carry no sync markers or CRC of their own (spec.md §6.1:
// "Control bytes (unframed)") — a Scanner pulls them directly off the raw
// reverse byte stream.
package control

import (
	"fmt"

	"github.com/kstaniek/ssdv-link/internal/protoerr"
)

// Control byte values.
const (
	ACK byte = 0x06
	NAK byte = 0x15
)

// MaxMissing is the most missing sequence numbers a single NAK can carry
// (spec.md §9's "NAK list overflow" open question: truncate, don't fail).
const MaxMissing = 255

// Verdict is a decoded ACK or NAK.
type Verdict struct {
	IsACK      bool
	BatchStart byte
	BatchEnd   byte
	Missing    []byte // empty for ACK
}

// EncodeACK renders ACK(batch_start, batch_end).
func EncodeACK(batchStart, batchEnd byte) []byte {
	return []byte{ACK, batchStart, batchEnd}
}

// EncodeNAK renders NAK(batch_start, batch_end, missing...), truncating the
// missing list to MaxMissing entries if it is longer; callers report the
// remainder on a subsequent verdict (spec.md §9).
func EncodeNAK(batchStart, batchEnd byte, missing []byte) []byte {
	if len(missing) > MaxMissing {
		missing = missing[:MaxMissing]
	}
	out := make([]byte, 0, 4+len(missing))
	out = append(out, NAK, batchStart, batchEnd, byte(len(missing)))
	out = append(out, missing...)
	return out
}

// Decode parses one complete, unframed control message (ACK or NAK
// bytes as produced by EncodeACK/EncodeNAK) into a Verdict. It returns protoerr.ErrCorrupt for malformed
// input so callers can count it the same way a bad CRC is counted.
func Decode(payload []byte) (Verdict, error) {
	if len(payload) < 1 {
		return Verdict{}, fmt.Errorf("control: empty payload: %w", protoerr.ErrCorrupt)
	}
	switch payload[0] {
	case ACK:
		if len(payload) != 3 {
			return Verdict{}, fmt.Errorf("control: ACK wrong length %d: %w", len(payload), protoerr.ErrCorrupt)
		}
		return Verdict{IsACK: true, BatchStart: payload[1], BatchEnd: payload[2]}, nil
	case NAK:
		if len(payload) < 4 {
			return Verdict{}, fmt.Errorf("control: NAK too short %d: %w", len(payload), protoerr.ErrCorrupt)
		}
		count := int(payload[3])
		if len(payload) != 4+count {
			return Verdict{}, fmt.Errorf("control: NAK missing_count %d mismatches length %d: %w", count, len(payload), protoerr.ErrCorrupt)
		}
		missing := make([]byte, count)
		copy(missing, payload[4:])
		return Verdict{IsACK: false, BatchStart: payload[1], BatchEnd: payload[2], Missing: missing}, nil
	default:
		return Verdict{}, fmt.Errorf("control: unknown control byte 0x%02X: %w", payload[0], protoerr.ErrCorrupt)
	}
}

// EOTSeq and EOTPayload identify the terminal data frame: seq=255,
// payload="EOT" (spec.md §4.3).
const EOTSeq byte = 255

var EOTPayload = []byte("EOT")

// IsEOT reports whether a decoded data frame is the end-of-transmission
// marker.
func IsEOT(seq byte, payload []byte) bool {
	return seq == EOTSeq && string(payload) == string(EOTPayload)
}

// MatchesBatch reports whether a verdict's endpoints equal the given
// outstanding batch, using wrapped-endpoint comparison: both values are
// compared literally, never by span length, so a batch that wraps the
// 8-bit sequence space (e.g. start=200, end=43) still matches correctly
// (spec.md §4.4's wraparound rule).
func (v Verdict) MatchesBatch(batchStart, batchEnd byte) bool {
	return v.BatchStart == batchStart && v.BatchEnd == batchEnd
}

// ScanStatus classifies the result of one Scanner.TryExtract call.
type ScanStatus int

const (
	ScanVerdict ScanStatus = iota
	ScanIncomplete
	ScanNoise // the leading byte was neither ACK nor NAK; dropped
)

// Scanner pulls ACK/NAK messages off the raw (unframed) reverse byte
// stream. It has nothing to resynchronise on beyond the two known leading
// control bytes, so any other leading byte is dropped one at a time.
type Scanner struct {
	buf []byte
}

// Feed appends newly read bytes to the scanner's buffer.
func (s *Scanner) Feed(data []byte) { s.buf = append(s.buf, data...) }

// Buffered reports how many bytes are currently held.
func (s *Scanner) Buffered() int { return len(s.buf) }

// TryExtract attempts to pull one control message out of the buffer.
func (s *Scanner) TryExtract() (Verdict, ScanStatus) {
	if len(s.buf) == 0 {
		return Verdict{}, ScanIncomplete
	}
	switch s.buf[0] {
	case ACK:
		if len(s.buf) < 3 {
			return Verdict{}, ScanIncomplete
		}
		v := Verdict{IsACK: true, BatchStart: s.buf[1], BatchEnd: s.buf[2]}
		s.buf = s.buf[3:]
		return v, ScanVerdict
	case NAK:
		if len(s.buf) < 4 {
			return Verdict{}, ScanIncomplete
		}
		count := int(s.buf[3])
		total := 4 + count
		if len(s.buf) < total {
			return Verdict{}, ScanIncomplete
		}
		missing := make([]byte, count)
		copy(missing, s.buf[4:total])
		v := Verdict{IsACK: false, BatchStart: s.buf[1], BatchEnd: s.buf[2], Missing: missing}
		s.buf = s.buf[total:]
		return v, ScanVerdict
	default:
		s.buf = s.buf[1:]
		return Verdict{}, ScanNoise
	}
}

// Drain repeatedly extracts verdicts, invoking onVerdict for each one and
// onNoise (if non-nil) for each dropped stray byte, until the buffer
// yields only ScanIncomplete.
func (s *Scanner) Drain(onVerdict func(Verdict), onNoise func()) {
	for {
		v, status := s.TryExtract()
		switch status {
		case ScanVerdict:
			onVerdict(v)
		case ScanNoise:
			if onNoise != nil {
				onNoise()
			}
		case ScanIncomplete:
			return
		}
	}
}
