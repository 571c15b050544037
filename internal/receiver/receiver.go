// Package receiver implements the receiver role's state machine:
// byte-resynchronise, parse and CRC-validate frames, deduplicate by
// sequence number, persist payloads positionally, and emit a batch
// verdict (ACK or NAK+missing-list) as each batch window closes
// (spec.md §4.4).
package receiver

import (
	"bytes"
	"context"
	"fmt"
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
	DefaultBatchSize      = 100
	DefaultSyncTimeout    = 10 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
	DefaultPollInterval   = 50 * time.Millisecond
)

// State is the receiver session's current phase.
type State int

const (
	StateWaitingSync State = iota
	StateReceiving
	StateFinalising
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateWaitingSync:
		return "WAITING_SYNC"
	case StateReceiving:
		return "RECEIVING"
	case StateFinalising:
		return "FINALISING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Options configures one receive session.
type Options struct {
	BatchSize      int // packets per ack unit; 0 selects DefaultBatchSize
	SyncTimeout    time.Duration
	ReceiveTimeout time.Duration
	PollInterval   time.Duration
	// ExplicitLength overrides the trailing-zero truncation heuristic with
	// an exact byte count (spec.md §9's "pass explicit payload lengths out
	// of band" escape hatch). Nil (the zero value) keeps the heuristic, so
	// a zero-value Options is always safe to construct.
	ExplicitLength *int
	// Monitor publishes live telemetry events; nil is a valid no-op.
	Monitor *monitor.Publisher
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = DefaultSyncTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// Result summarises a completed (or aborted) session.
type Result struct {
	State        State
	BytesWritten int
	MaxSeq       int // -1 if nothing was ever received
}

// Receiver drives the receiver's state machine over a Port into a Sink.
type Receiver struct {
	port link.Port
	sk   sink.Sink
	opt  Options

	def     *frame.Deframer
	syncBuf []byte

	state            State
	receivedSeqs     map[byte]bool
	currentBatchSeqs map[byte]bool
	currentBatchStart byte
	maxSeq           int
	minSeq           int
	bytesWritten     int
	eotSeen          bool
	terminal         bool // EOT seen or inactivity timeout hit: batch_end is bounded by maxSeq
}

// New creates a Receiver bound to an already-open link and output sink.
func New(port link.Port, sk sink.Sink, opt Options) *Receiver {
	opt.setDefaults()
	return &Receiver{
		port:              port,
		sk:                sk,
		opt:               opt,
		def:               frame.NewDeframer(0),
		state:             StateWaitingSync,
		receivedSeqs:      make(map[byte]bool),
		currentBatchSeqs:  make(map[byte]bool),
		currentBatchStart: 0,
		maxSeq:            -1,
		minSeq:            -1,
	}
}

// Run executes the full WAITING_SYNC → ... → DONE/ABORTED state machine
// and finalises the sink before returning.
func (r *Receiver) Run(ctx context.Context) (Result, error) {
	if err := r.waitForSync(ctx); err != nil {
		r.state = StateAborted
		return r.result(), err
	}

	if err := r.receiveLoop(ctx); err != nil {
		return r.result(), err
	}

	r.state = StateFinalising
	r.finalise()
	r.state = StateDone
	return r.result(), nil
}

func (r *Receiver) result() Result {
	return Result{State: r.state, BytesWritten: r.bytesWritten, MaxSeq: r.maxSeq}
}

// waitForSync blocks until the first sync_start byte pair is observed on
// the link, or SyncTimeout elapses.
func (r *Receiver) waitForSync(ctx context.Context) error {
	deadline := time.Now().Add(r.opt.SyncTimeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("receiver: %w: no sync within %s", protoerr.ErrTimeout, r.opt.SyncTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := r.port.ReadAvailable()
		if err != nil {
			return fmt.Errorf("receiver: read during sync wait: %w", protoerr.ErrLink)
		}
		if len(data) == 0 {
			continue
		}
		r.syncBuf = append(r.syncBuf, data...)
		if idx := bytes.Index(r.syncBuf, frame.SyncStart); idx >= 0 {
			r.def.Feed(r.syncBuf[idx:])
			r.state = StateReceiving
			r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindSyncAcquired, Time: time.Now()})
			return nil
		}
		// Keep only a possible partial marker at the tail, like the
		// deframer's own resync rule.
		if len(r.syncBuf) > 1 {
			r.syncBuf = r.syncBuf[len(r.syncBuf)-1:]
		}
	}
}

// receiveLoop drives the deframer until EOT or RECEIVE_TIMEOUT inactivity.
func (r *Receiver) receiveLoop(ctx context.Context) error {
	lastByteTime := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(lastByteTime) > r.opt.ReceiveTimeout {
			stats.IncTimeouts()
			logging.L().Warn("receive_inactivity_timeout", "seconds", r.opt.ReceiveTimeout.Seconds())
			r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindSyncLost, Time: time.Now(), Detail: "inactivity timeout"})
			r.terminal = true
			return nil // finalise with whatever was received
		}

		data, err := r.port.ReadAvailable()
		if err != nil {
			return fmt.Errorf("receiver: read: %w", protoerr.ErrLink)
		}
		if len(data) > 0 {
			lastByteTime = time.Now()
			r.def.Feed(data)
		}

		done := false
		r.def.Drain(func(fr frame.Frame) {
			if done {
				return
			}
			if r.handleFrame(fr) {
				done = true
			}
		}, func() {
			stats.IncFramesCorrupt()
			r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindFrameCorrupt, Time: time.Now()})
		})
		if done {
			return nil
		}
		if len(data) == 0 {
			time.Sleep(r.opt.PollInterval)
		}
	}
}

// handleFrame applies one valid frame per spec.md §4.4's RECEIVING
// transition, returning true if this was the EOT marker.
func (r *Receiver) handleFrame(fr frame.Frame) bool {
	if control.IsEOT(fr.Seq, fr.Payload) {
		r.eotSeen = true
		r.terminal = true
		r.emitVerdict(r.currentBatchEnd())
		r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindSessionDone, Time: time.Now(), Bytes: r.bytesWritten})
		return true
	}

	if r.receivedSeqs[fr.Seq] {
		stats.IncFramesDuplicate()
		r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindFrameDuplicate, Time: time.Now(), Seq: int(fr.Seq)})
		return false
	}

	r.receivedSeqs[fr.Seq] = true
	if err := r.sk.WriteAt(fr.Seq, fr.Payload); err != nil {
		logging.L().Error("sink_write_error", "seq", fr.Seq, "error", err)
		stats.IncError(protoerr.Label(protoerr.ErrSinkIO))
		return false
	}
	stats.IncFramesReceived()
	stats.AddBytesWritten(len(fr.Payload))
	r.bytesWritten += len(fr.Payload)
	r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindFrameAccepted, Time: time.Now(), Seq: int(fr.Seq), Bytes: len(fr.Payload)})
	if int(fr.Seq) > r.maxSeq {
		r.maxSeq = int(fr.Seq)
	}
	if r.minSeq < 0 || int(fr.Seq) < r.minSeq {
		r.minSeq = int(fr.Seq)
	}

	r.admitToBatch(fr.Seq)
	return false
}

// admitToBatch applies spec.md §4.4's batch-boundary rule. Three things can
// close the currently-open batch:
//   - seq belongs to a genuinely new BATCH_SIZE window while the current
//     one is still open: the sender only starts a new window once it has
//     the prior one's verdict, so this is a safety valve, not the normal
//     path. Close out whatever the window has and advance past it
//     unconditionally.
//   - seq lands on the window's own top boundary slot
//     (currentBatchStart + BATCH_SIZE - 1) for the first time, meaning the
//     sender's last packet of this batch has now been seen even if earlier
//     members of the batch were dropped along the way. This may yield a NAK;
//     the window stays open (batch_start/currentBatchSeqs untouched) so the
//     retransmits spec.md §4.3 promises can still land in it.
//   - a retransmitted frame fills every remaining gap in a batch that was
//     previously NAKed: re-close the same window, this time as an ACK, and
//     only now advance past it.
func (r *Receiver) admitToBatch(seq byte) {
	if int(seq)/r.opt.BatchSize != int(r.currentBatchStart)/r.opt.BatchSize {
		end := r.currentBatchEnd()
		if complete := r.emitVerdict(end); !complete {
			// emitVerdict only advances a complete (ACK'd) batch; force
			// the window forward here since the sender has already moved on.
			r.advanceBatch(end)
		}
	}
	r.currentBatchSeqs[seq] = true
	if seq == r.windowTop() || r.batchFilled(r.currentBatchEnd()) {
		r.emitVerdict(r.currentBatchEnd())
	}
}

// batchFilled reports whether every sequence in [currentBatchStart,
// batchEnd] has been received.
func (r *Receiver) batchFilled(batchEnd byte) bool {
	start := int(r.currentBatchStart)
	end := int(batchEnd)
	span := end - start
	if span < 0 {
		span += 256
	}
	for i := 0; i <= span; i++ {
		if !r.currentBatchSeqs[byte((start+i)&0xFF)] {
			return false
		}
	}
	return true
}

// windowTop returns the top sequence slot of the currently-open window
// (currentBatchStart + BATCH_SIZE - 1, wrapped mod 256).
func (r *Receiver) windowTop() byte {
	return byte((int(r.currentBatchStart) + r.opt.BatchSize - 1) & 0xFF)
}

// currentBatchEnd computes batch_end for the currently-open window,
// accounting for EOT/inactivity truncating the final batch short of a
// full BATCH_SIZE span.
func (r *Receiver) currentBatchEnd() byte {
	full := int(r.currentBatchStart) + r.opt.BatchSize - 1
	if r.terminal && r.maxSeq >= 0 && r.maxSeq < full {
		return byte(r.maxSeq)
	}
	return byte(full & 0xFF)
}

// emitVerdict reconciles the closing batch's expected membership against
// what was actually received and sends ACK or NAK, reporting whether the
// batch was complete (ACK'd). A NAK leaves the batch window open —
// batch_start and currentBatchSeqs are untouched — so the retransmits
// spec.md §4.3 promises still land in it; only a complete batch advances
// the window here (see advanceBatch). Callers that must force the window
// forward regardless of completeness do so explicitly.
func (r *Receiver) emitVerdict(batchEnd byte) bool {
	start := int(r.currentBatchStart)
	end := int(batchEnd)
	span := end - start
	if span < 0 {
		span += 256
	}

	var missing []byte
	complete := true
	for i := 0; i <= span; i++ {
		seq := byte((start + i) & 0xFF)
		if !r.currentBatchSeqs[seq] {
			complete = false
			missing = append(missing, seq)
		}
	}

	var wire []byte
	if complete {
		wire = control.EncodeACK(r.currentBatchStart, batchEnd)
		stats.IncBatchesACKed()
		r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindBatchACKed, Time: time.Now(),
			BatchStart: int(r.currentBatchStart), BatchEnd: int(batchEnd)})
	} else {
		wire = control.EncodeNAK(r.currentBatchStart, batchEnd, missing)
		stats.IncBatchesNAKed()
		r.opt.Monitor.Publish(monitor.Event{Kind: monitor.KindBatchNAKed, Time: time.Now(),
			BatchStart: int(r.currentBatchStart), BatchEnd: int(batchEnd), Missing: missing})
	}
	if err := r.port.WriteAll(wire); err != nil {
		logging.L().Error("verdict_write_error", "error", err)
		stats.IncError(protoerr.Label(protoerr.ErrLink))
	}

	if complete {
		r.advanceBatch(batchEnd)
	}
	return complete
}

// advanceBatch moves the window past batchEnd and clears batch membership,
// for a batch that is done being reconciled (ACK'd, or forced shut by a
// frame from a genuinely new window).
func (r *Receiver) advanceBatch(batchEnd byte) {
	r.currentBatchStart = byte((int(batchEnd) + 1) & 0xFF)
	r.currentBatchSeqs = make(map[byte]bool)
}

// finalise reconciles any still-open batch, fills missing packets with
// zero records so file offsets stay correct, and closes the sink. EOT
// already emitted its own terminal verdict (handleFrame), so this only
// emits one when finalisation was instead triggered by inactivity.
func (r *Receiver) finalise() {
	if !r.eotSeen && r.maxSeq >= 0 {
		r.emitVerdict(r.currentBatchEnd())
	}

	if r.minSeq >= 0 {
		zero := make([]byte, sink.RecordSize)
		for seq := r.minSeq; seq <= r.maxSeq; seq++ {
			if !r.receivedSeqs[byte(seq)] {
				_ = r.sk.WriteAt(byte(seq), zero)
			}
		}
	}

	explicitLen := -1
	if r.opt.ExplicitLength != nil {
		explicitLen = *r.opt.ExplicitLength
	}
	if err := r.sk.Finalize(explicitLen); err != nil {
		logging.L().Error("finalize_error", "error", err)
	}
	if err := r.sk.Close(); err != nil {
		logging.L().Error("sink_close_error", "error", err)
	}
}
