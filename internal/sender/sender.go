// Package sender implements the transmitter role's sequence/batch
// controller: segmenting a source into payloads, framing and
// CRC-protecting them, transmitting in batches, and retrying missing
// members on NAK or timeout (spec.md §4.3).
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kstaniek/ssdv-link/internal/control"
	"github.com/kstaniek/ssdv-link/internal/frame"
	"github.com/kstaniek/ssdv-link/internal/link"
	"github.com/kstaniek/ssdv-link/internal/logging"
	"github.com/kstaniek/ssdv-link/internal/monitor"
	"github.com/kstaniek/ssdv-link/internal/protoerr"
	"github.com/kstaniek/ssdv-link/internal/sink"
	"github.com/kstaniek/ssdv-link/internal/stats"
)

// Defaults from spec.md §6.3.
const (
	DefaultBatchSize  = 100
	DefaultAckTimeout = 25 * time.Second
	DefaultPacing     = 100 * time.Millisecond
	MaxRetries        = 5
)

// Options configures one send_stream session.
type Options struct {
	BatchSize  int // packets per ack unit; 0 selects DefaultBatchSize
	AckTimeout time.Duration
	Pacing     time.Duration
	MaxRetries int
	// Monitor publishes live telemetry events; nil is a valid no-op.
	Monitor *monitor.Publisher
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.Pacing <= 0 {
		o.Pacing = DefaultPacing
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = MaxRetries
	}
}

// inFlightPacket is one buffered, possibly-retransmitted member of the
// current batch.
type inFlightPacket struct {
	seq     byte
	payload []byte
}

// Sender drives the send_stream loop over a Port.
type Sender struct {
	port link.Port
	scan control.Scanner // decodes unframed ACK/NAK arriving on the reverse stream
	opt  Options

	nextSeq    byte
	batchStart byte
	inFlight   []inFlightPacket
}

// New creates a Sender bound to an already-open link.
func New(port link.Port, opt Options) *Sender {
	opt.setDefaults()
	return &Sender{
		port: port,
		opt:  opt,
	}
}

// SendStream drains source to EOF, transmitting batches and handling
// verdicts, then sends a terminal EOT. Returns an error wrapping one of
// protoerr's sentinels on fatal failure.
func (s *Sender) SendStream(ctx context.Context, source sink.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sender: cancelled: %w", err)
		}

		chunk, err := source.Next()
		if errors.Is(err, io.EOF) {
			break // EOF: go to finalisation
		}
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		if len(chunk) > frame.MaxPayloadSize {
			return fmt.Errorf("sender: source returned %d bytes: %w", len(chunk), protoerr.ErrProgramming)
		}

		if err := s.transmitOne(chunk); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("sender: cancelled: %w", ctx.Err())
		case <-time.After(s.opt.Pacing):
		}

		if len(s.inFlight) == s.opt.BatchSize {
			if err := s.closeBatch(ctx); err != nil {
				return err
			}
		}
	}

	if len(s.inFlight) > 0 {
		if err := s.closeBatch(ctx); err != nil {
			return err
		}
	}
	if err := s.sendEOT(); err != nil {
		return err
	}
	s.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindSessionDone, Time: time.Now(), Detail: "send_stream complete"})
	return nil
}

func (s *Sender) transmitOne(payload []byte) error {
	seq := s.nextSeq
	wire, err := frame.Encode(seq, payload)
	if err != nil {
		return err
	}
	if err := s.port.WriteAll(wire); err != nil {
		return fmt.Errorf("sender: write frame seq=%d: %w", seq, protoerr.ErrLink)
	}
	stats.IncFramesSent()
	s.inFlight = append(s.inFlight, inFlightPacket{seq: seq, payload: payload})
	s.nextSeq++
	return nil
}

func (s *Sender) sendEOT() error {
	wire, err := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err != nil {
		return err
	}
	if err := s.port.WriteAll(wire); err != nil {
		return fmt.Errorf("sender: write EOT: %w", protoerr.ErrLink)
	}
	stats.IncFramesSent()
	return nil
}

// closeBatch implements the retry/verdict protocol described in
// spec.md §4.3: wait for ACK/NAK, retransmit on NAK or timeout, give up
// after MaxRetries.
func (s *Sender) closeBatch(ctx context.Context) error {
	batchEnd := s.inFlight[len(s.inFlight)-1].seq
	retries := 0

	for {
		verdict, err := s.awaitVerdict(ctx, s.opt.AckTimeout)
		if err != nil {
			if !errors.Is(err, protoerr.ErrTimeout) {
				return err // link failure or cancellation: fatal, not retried
			}
			// Timeout: resend everything, retry.
			retries++
			stats.IncTimeouts()
			stats.IncRetries()
			logging.L().Warn("batch_ack_timeout", "batch_start", s.batchStart, "batch_end", batchEnd, "retry", retries)
			if retries > s.opt.MaxRetries {
				stats.IncError(protoerr.Label(protoerr.ErrTimeout))
				return fmt.Errorf("sender: batch [%d,%d] exceeded max retries: %w", s.batchStart, batchEnd, protoerr.ErrTimeout)
			}
			if err := s.resendAll(); err != nil {
				return err
			}
			continue
		}

		if !verdict.MatchesBatch(s.batchStart, batchEnd) {
			// Stale or mismatched verdict: ignored per spec.md §4.3, not failed.
			continue
		}

		if verdict.IsACK {
			s.inFlight = nil
			s.batchStart = s.nextSeq
			stats.IncBatchesACKed()
			s.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindBatchACKed, Time: time.Now(),
				BatchStart: int(verdict.BatchStart), BatchEnd: int(verdict.BatchEnd)})
			return nil
		}

		retries++
		stats.IncRetries()
		stats.IncBatchesNAKed()
		s.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindBatchNAKed, Time: time.Now(),
			BatchStart: int(verdict.BatchStart), BatchEnd: int(verdict.BatchEnd), Missing: verdict.Missing})
		if retries > s.opt.MaxRetries {
			return fmt.Errorf("sender: batch [%d,%d] exceeded max retries: %w", s.batchStart, batchEnd, protoerr.ErrTimeout)
		}
		if err := s.resendMissing(verdict.Missing); err != nil {
			return err
		}
	}
}

func (s *Sender) resendAll() error {
	for _, p := range s.inFlight {
		if err := s.retransmit(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) resendMissing(missing []byte) error {
	want := make(map[byte]bool, len(missing))
	for _, m := range missing {
		want[m] = true
	}
	for _, p := range s.inFlight {
		if want[p.seq] {
			if err := s.retransmit(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// retransmit re-sends byte-identical wire bytes for an in-flight packet
// (spec.md §9's retransmission-idempotence rule), paced the same as a
// first transmission.
func (s *Sender) retransmit(p inFlightPacket) error {
	wire, err := frame.Encode(p.seq, p.payload)
	if err != nil {
		return err
	}
	if err := s.port.WriteAll(wire); err != nil {
		return fmt.Errorf("sender: retransmit seq=%d: %w", p.seq, protoerr.ErrLink)
	}
	stats.IncFramesSent()
	time.Sleep(s.opt.Pacing)
	return nil
}

// awaitVerdict polls the reverse stream for an unframed ACK/NAK control
// message up to timeout (spec.md §6.1: control bytes carry no sync
// markers or CRC of their own).
func (s *Sender) awaitVerdict(ctx context.Context, timeout time.Duration) (control.Verdict, error) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return control.Verdict{}, fmt.Errorf("sender: %w", protoerr.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return control.Verdict{}, ctx.Err()
		default:
		}

		data, err := s.port.ReadAvailable()
		if err != nil {
			return control.Verdict{}, fmt.Errorf("sender: read reverse stream: %w", protoerr.ErrLink)
		}
		if len(data) == 0 {
			continue
		}
		s.scan.Feed(data)

		var found *control.Verdict
		s.scan.Drain(func(v control.Verdict) {
			if found == nil {
				found = &v
			}
		}, nil)
		if found != nil {
			return *found, nil
		}
	}
}
