package receiver

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kstaniek/ssdv-link/internal/control"
	"github.com/kstaniek/ssdv-link/internal/frame"
	"github.com/kstaniek/ssdv-link/internal/link"
	"github.com/kstaniek/ssdv-link/internal/sink"
)

func TestRun_PerfectLinkThreePackets(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{})

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := rx.Run(context.Background())
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	a := bytes.Repeat([]byte{0x00}, 255)
	b := bytes.Repeat([]byte{0x01}, 255)
	c := []byte("hello")
	for i, p := range [][]byte{a, b, c} {
		wire, err := frame.Encode(byte(i), p)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if err := txPort.WriteAll(wire); err != nil {
			t.Fatalf("WriteAll: %v", err)
		}
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Run: %v", r.err)
		}
		if r.res.State != StateDone {
			t.Fatalf("state = %v, want DONE", r.res.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	want := append(append(append([]byte{}, a...), b...), c...)
	if !bytes.Equal(sk.Bytes(), want) {
		t.Fatalf("got %d bytes, want %d", len(sk.Bytes()), len(want))
	}

	verdict, status := readOneVerdict(t, txPort)
	if status != control.ScanVerdict || !verdict.IsACK || verdict.BatchStart != 0 || verdict.BatchEnd != 2 {
		t.Fatalf("got verdict=%+v status=%v, want ACK(0,2)", verdict, status)
	}
}

func TestRun_OneDroppedPacketYieldsNAK(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := rx.Run(context.Background())
		done <- err
	}()

	for seq := 0; seq < 100; seq++ {
		if seq == 42 {
			continue // dropped
		}
		wire, err := frame.Encode(byte(seq), bytes.Repeat([]byte{byte(seq)}, 255))
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if err := txPort.WriteAll(wire); err != nil {
			t.Fatalf("WriteAll: %v", err)
		}
	}

	verdict, status := readOneVerdict(t, txPort)
	if status != control.ScanVerdict || verdict.IsACK {
		t.Fatalf("got verdict=%+v status=%v, want NAK", verdict, status)
	}
	if verdict.BatchStart != 0 || verdict.BatchEnd != 99 {
		t.Fatalf("got batch (%d,%d), want (0,99)", verdict.BatchStart, verdict.BatchEnd)
	}
	if len(verdict.Missing) != 1 || verdict.Missing[0] != 42 {
		t.Fatalf("got missing=%v, want [42]", verdict.Missing)
	}

	// Retransmit the missing packet; next verdict should be a clean ACK
	// (spec.md §8 scenario 2) — the batch must stay open across the NAK,
	// not roll forward into a new, never-started window.
	wire, _ := frame.Encode(42, bytes.Repeat([]byte{42}, 255))
	if err := txPort.WriteAll(wire); err != nil {
		t.Fatalf("WriteAll retransmit: %v", err)
	}

	verdict, status = readOneVerdict(t, txPort)
	if status != control.ScanVerdict || !verdict.IsACK {
		t.Fatalf("got verdict=%+v status=%v, want ACK", verdict, status)
	}
	if verdict.BatchStart != 0 || verdict.BatchEnd != 99 {
		t.Fatalf("got batch (%d,%d), want ACK(0,99)", verdict.BatchStart, verdict.BatchEnd)
	}

	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_CorruptFrameThenValidFrame(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := rx.Run(context.Background())
		done <- err
	}()

	good, err := frame.Encode(0, []byte("XX"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bad := append([]byte{}, good...)
	bad[6] ^= 0xFF // corrupt the CRC's low byte (payload is bytes 4-5)

	if err := txPort.WriteAll(bad); err != nil {
		t.Fatalf("WriteAll bad: %v", err)
	}
	if err := txPort.WriteAll(good); err != nil {
		t.Fatalf("WriteAll good: %v", err)
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if !bytes.HasPrefix(sk.Bytes(), []byte("XX")) {
		t.Fatalf("got %q, want prefix %q", sk.Bytes(), "XX")
	}
}

func TestRun_SyncInTheMiddle(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := rx.Run(context.Background())
		done <- err
	}()

	good, err := frame.Encode(0, []byte("Z"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	noisy := append([]byte{0xDE, 0xAD, 0xBE, 0xEF}, good...)
	if err := txPort.WriteAll(noisy); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if !bytes.HasPrefix(sk.Bytes(), []byte("Z")) {
		t.Fatalf("got %q, want prefix %q", sk.Bytes(), "Z")
	}
}

func TestRun_DuplicateFrameDoesNotIncreaseBytesWritten(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{})

	done := make(chan struct {
		res Result
		err error
	}, 1)
	go func() {
		res, err := rx.Run(context.Background())
		done <- struct {
			res Result
			err error
		}{res, err}
	}()

	wire, err := frame.Encode(0, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := txPort.WriteAll(wire); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := txPort.WriteAll(wire); err != nil { // duplicate
		t.Fatalf("WriteAll dup: %v", err)
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Run: %v", r.err)
		}
		if r.res.BytesWritten != 5 {
			t.Fatalf("BytesWritten = %d, want 5 (duplicate must not double-count)", r.res.BytesWritten)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ZeroValueOptionsKeepsHeuristic(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	rx := New(rxPort, sk, Options{}) // ExplicitLength left nil

	done := make(chan Result, 1)
	go func() {
		res, err := rx.Run(context.Background())
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- res
	}()

	wire, err := frame.Encode(0, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := txPort.WriteAll(wire); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case <-done:
		if !bytes.Equal(sk.Bytes(), []byte("hello")) {
			t.Fatalf("got %q, want %q (zero-value Options must not truncate to empty)", sk.Bytes(), "hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ExplicitLengthOverridesHeuristic(t *testing.T) {
	rxPort, txPort := link.NewLoopbackPair()
	defer rxPort.Close()
	defer txPort.Close()

	sk := sink.NewMemorySink()
	want := 3
	rx := New(rxPort, sk, Options{ExplicitLength: &want})

	done := make(chan Result, 1)
	go func() {
		res, err := rx.Run(context.Background())
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- res
	}()

	wire, err := frame.Encode(0, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := txPort.WriteAll(wire); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	eot, _ := frame.Encode(control.EOTSeq, control.EOTPayload)
	if err := txPort.WriteAll(eot); err != nil {
		t.Fatalf("WriteAll EOT: %v", err)
	}

	select {
	case <-done:
		if !bytes.Equal(sk.Bytes(), []byte("hel")) {
			t.Fatalf("got %q, want %q (explicit length must override the heuristic)", sk.Bytes(), "hel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// readOneVerdict reads from port until one control message is scanned.
func readOneVerdict(t *testing.T, port link.Port) (control.Verdict, control.ScanStatus) {
	t.Helper()
	var scan control.Scanner
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := port.ReadAvailable()
		if err != nil {
			t.Fatalf("ReadAvailable: %v", err)
		}
		if len(data) > 0 {
			scan.Feed(data)
			v, status := scan.TryExtract()
			if status == control.ScanVerdict {
				return v, status
			}
		}
	}
	t.Fatal("no verdict observed within timeout")
	return control.Verdict{}, control.ScanIncomplete
}
