// Package link abstracts the physical byte-oriented transport the sender
// and receiver exchange frames over: a real serial port, or an in-memory
// loopback pair for tests run without hardware attached.
package link

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the byte-stream abstraction every role loop depends on: the
// Serial Link Adapter's read_available, write_all and flush, plus Close.
// It has no buffer-reset operation. Reads are bounded by the concrete
// implementation's read timeout; writes have no timeout of their own.
type Port interface {
	// ReadAvailable returns whatever bytes are ready within the port's
	// configured read timeout; zero bytes and a nil error is a valid,
	// common result (no data arrived this tick).
	ReadAvailable() ([]byte, error)
	// WriteAll writes the full buffer. There is no write timeout: it
	// returns when the underlying write returns.
	WriteAll(p []byte) error
	Flush() error
	Close() error
}

// Config describes how to open a hardware serial port: 8N1 with no flow
// control (tarm/serial's defaults) and a read timeout (DefaultReadTimeout
// when zero). There is no write-timeout setting.
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultReadTimeout is spec.md §6.1's 1.0 s port read timeout.
const DefaultReadTimeout = 1 * time.Second

// hardwarePort wraps github.com/tarm/serial for a real UART/USB-serial
// device.
type hardwarePort struct {
	port *serial.Port
	buf  [4096]byte
}

// Open opens a real serial device with the given configuration.
func Open(cfg Config) (Port, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	sc := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", cfg.Name, err)
	}
	return &hardwarePort{port: p}, nil
}

func (h *hardwarePort) ReadAvailable() ([]byte, error) {
	n, err := h.port.Read(h.buf[:])
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, h.buf[:n])
	return out, nil
}

func (h *hardwarePort) WriteAll(p []byte) error {
	_, err := h.port.Write(p)
	return err
}

func (h *hardwarePort) Flush() error { return h.port.Flush() }
func (h *hardwarePort) Close() error { return h.port.Close() }
