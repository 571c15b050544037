package link

import (
	"strings"
	"time"
)

// OpenAddr opens a port from a CLI-style address: either a real device
// path/name (opened via Open with the given baud) or the literal
// "loop://" pseudo-address, which returns one end of an in-memory
// loopback pair and discards its twin — useful for smoke-testing the CLI
// surface without hardware or a peer process.
func OpenAddr(addr string, baud int, readTimeoutMS int) (Port, error) {
	if strings.HasPrefix(addr, "loop://") {
		a, _ := NewLoopbackPair()
		return a, nil
	}
	cfg := Config{Name: addr, Baud: baud}
	if readTimeoutMS > 0 {
		cfg.ReadTimeout = time.Duration(readTimeoutMS) * time.Millisecond
	}
	return Open(cfg)
}
