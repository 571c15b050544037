package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"
)

func dialAndHandshake(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Write([]byte(hello)); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	buf := make([]byte, len(hello))
	if _, err := c.Read(buf); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if string(buf) != hello {
		t.Fatalf("unexpected hello %q", buf)
	}
	return c
}

func TestServer_HandshakeAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := New()
	srv := NewServer(WithHub(h), WithListenAddr(":0"), WithHandshakeTimeout(2*time.Second))
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatal("server did not signal readiness")
	}

	conn := dialAndHandshake(t, ctx, srv.Addr())
	defer conn.Close()

	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if h.Count() != 1 {
		t.Fatalf("expected 1 registered observer, got %d", h.Count())
	}

	h.Broadcast(Event{Kind: KindBatchACKed, BatchStart: 0, BatchEnd: 99})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	br := bufio.NewReader(conn)
	line, err := br.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read broadcast line: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if ev.Kind != KindBatchACKed || ev.BatchEnd != 99 {
		t.Fatalf("got %+v, want batch_acked(0,99)", ev)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := NewServer(WithHub(New()), WithListenAddr(":0"), WithHandshakeTimeout(300*time.Millisecond))
	go srv.Serve(ctx)
	<-srv.Ready()

	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not-the-hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	// The server writes its own hello while reading ours, so those bytes
	// arrive first; the close shows up on the read after them.
	_, _ = io.ReadFull(conn, make([]byte, len(hello)))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after a bad hello")
	}
}

func TestServer_MaxClientsRejectsExtra(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := New()
	srv := NewServer(WithHub(h), WithListenAddr(":0"), WithMaxClients(1))
	go srv.Serve(ctx)
	<-srv.Ready()

	c1 := dialAndHandshake(t, ctx, srv.Addr())
	defer c1.Close()
	regDeadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(regDeadline) && h.Count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	c2 := dialAndHandshake(t, ctx, srv.Addr()) // handshake succeeds; rejection happens after
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := c2.Read(buf); err == nil {
		t.Fatal("expected second observer to be rejected over max-clients")
	}
}
