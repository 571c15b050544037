package monitor

import (
	"errors"

	"github.com/kstaniek/ssdv-link/internal/protoerr"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrContext   = errors.New("context_cancelled")
)

// label maps a wrapped sentinel to a protoerr taxonomy label for stats.
func label(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrConnWrite),
		errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return protoerr.Label(protoerr.ErrLink)
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
