// Package protoerr defines the sentinel error taxonomy shared by the
// sender, receiver, and link adapter, mirroring the classification the
// teacher's internal/server/errors.go applies to its own TCP/backend
// errors. Every terminal error returned by a role loop wraps one of these
// with %w so callers can classify it with errors.Is and so it can be
// mapped to a stats label at the boundary where it becomes fatal.
package protoerr

import "errors"

var (
	// ErrLink covers port-open/read/write failures: fatal to the session.
	ErrLink = errors.New("link error")
	// ErrTimeout covers inactivity and ACK-wait timeouts.
	ErrTimeout = errors.New("protocol timeout")
	// ErrCorrupt marks a frame rejected by CRC or length check. Never
	// surfaced as a terminal error — it is always handled inline and only
	// counted — but kept here so tests can assert on it uniformly.
	ErrCorrupt = errors.New("frame corrupt")
	// ErrSourceIO covers read failures against the sender's input source.
	ErrSourceIO = errors.New("source io error")
	// ErrSinkIO covers write failures against the receiver's output sink.
	ErrSinkIO = errors.New("sink io error")
	// ErrProgramming marks a misuse of the API (oversized payload,
	// negative lengths): always a bug, always fatal.
	ErrProgramming = errors.New("programming error")
)

// Label maps a wrapped sentinel to a stable stats/metric label, the way
// the teacher's mapErrToMetric maps server errors to Prometheus label
// values.
func Label(err error) string {
	switch {
	case errors.Is(err, ErrLink):
		return "link"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrSourceIO):
		return "source_io"
	case errors.Is(err, ErrSinkIO):
		return "sink_io"
	case errors.Is(err, ErrProgramming):
		return "programming"
	default:
		return "other"
	}
}
