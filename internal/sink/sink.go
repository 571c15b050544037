// Package sink implements the receiver's random-access output and the
// sender's sequential input, polymorphic over storage: file-backed for
// real transfers, memory-backed so the protocol test suite can run
// without a filesystem (spec.md §6's Positional Sink/Source, and the
// polymorphism-over-source/sink redesign note).
package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/kstaniek/ssdv-link/internal/protoerr"
)

// RecordSize is the fixed chunk size every payload but the last must be,
// so that byte offset seq*RecordSize is a safe positional write target.
const RecordSize = 255

// Source is anything the sender can read fixed-size chunks from.
type Source interface {
	// Next reads up to RecordSize bytes. A short read paired with a nil
	// error signals the final, possibly-partial chunk; a subsequent call
	// returns io.EOF.
	Next() ([]byte, error)
}

// Sink is anything the receiver can write payloads into positionally.
type Sink interface {
	WriteAt(seq byte, payload []byte) error
	// Finalize truncates trailing zero padding (or, if explicitLen >= 0,
	// truncates to that exact length). It does not release the sink;
	// Close does.
	Finalize(explicitLen int) error
	Close() error
}

// fileSource reads RecordSize chunks from an *os.File.
type fileSource struct {
	f *os.File
}

// OpenFileSource opens path for sequential RecordSize-chunked reads.
func OpenFileSource(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: open source %s: %w", path, err)
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) Next() ([]byte, error) {
	buf := make([]byte, RecordSize)
	n, err := io.ReadFull(s.f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("sink: read source: %w", protoerr.ErrSourceIO)
	}
	if n == 0 {
		return nil, io.EOF
	}
	return buf[:n], nil
}

// fileSink writes payloads at seq*RecordSize into an *os.File.
type fileSink struct {
	f *os.File
}

// OpenFileSink creates (truncating) path for positional writes.
func OpenFileSink(path string) (Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	return &fileSink{f: f}, nil
}

func (s *fileSink) WriteAt(seq byte, payload []byte) error {
	off := int64(seq) * RecordSize
	if _, err := s.f.WriteAt(payload, off); err != nil {
		return fmt.Errorf("sink: write at offset %d: %w", off, protoerr.ErrSinkIO)
	}
	return nil
}

// Finalize truncates trailing zero padding from the file, per spec.md
// §4.5: "scan from the end; truncate after the last non-zero byte." When
// explicitLen is >= 0 it overrides the heuristic entirely, since an
// out-of-band exact length is always preferable to the lossy guess.
func (s *fileSink) Finalize(explicitLen int) error {
	if explicitLen >= 0 {
		if err := s.f.Truncate(int64(explicitLen)); err != nil {
			return fmt.Errorf("sink: truncate to explicit length %d: %w", explicitLen, protoerr.ErrSinkIO)
		}
		return nil
	}
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("sink: stat for finalize: %w", protoerr.ErrSinkIO)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	pos := size
	for pos > 0 {
		readLen := int64(chunk)
		if pos < readLen {
			readLen = pos
		}
		start := pos - readLen
		n, err := s.f.ReadAt(buf[:readLen], start)
		if err != nil && err != io.EOF {
			return fmt.Errorf("sink: scan for trailing zeros: %w", protoerr.ErrSinkIO)
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] != 0 {
				return truncateFile(s.f, start+int64(i)+1)
			}
		}
		pos = start
	}
	// Entirely zero: truncate to empty.
	return truncateFile(s.f, 0)
}

func truncateFile(f *os.File, length int64) error {
	if err := f.Truncate(length); err != nil {
		return fmt.Errorf("sink: truncate to %d: %w", length, protoerr.ErrSinkIO)
	}
	return nil
}

func (s *fileSink) Close() error { return s.f.Close() }
