package monitor

import (
	"context"

	"github.com/kstaniek/ssdv-link/internal/logging"
)

// DefaultPublishBuffer bounds the number of events a sender/receiver can get
// ahead of a slow monitor hub before new events start being dropped.
const DefaultPublishBuffer = 256

// Publisher is the non-blocking handle the sender/receiver hold to report
// telemetry: Publish never blocks the protocol loop, even if every observer
// is slow or the hub itself is absent (a nil-safe no-op Publisher is
// returned by NewNop).
type Publisher struct {
	tx *AsyncTx
}

// NewPublisher funnels Publish calls into hub.Broadcast through a single
// background goroutine, so a slow observer (handled inside Hub.Broadcast's
// own drop/kick policy) never stalls the caller.
func NewPublisher(ctx context.Context, hub *Hub) *Publisher {
	p := &Publisher{}
	p.tx = NewAsyncTx(ctx, DefaultPublishBuffer, func(ev Event) error {
		hub.Broadcast(ev)
		return nil
	}, Hooks{
		OnError: func(err error) { logging.L().Warn("monitor_publish_error", "error", err) },
	})
	return p
}

// NewNop returns a Publisher whose Publish calls are discarded, for sessions
// run with no monitor endpoint configured.
func NewNop() *Publisher { return &Publisher{} }

// Publish enqueues ev for broadcast; a no-op when p has no backing hub.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.tx == nil {
		return
	}
	_ = p.tx.Publish(ev)
}

// Close stops the publisher's background goroutine.
func (p *Publisher) Close() {
	if p == nil || p.tx == nil {
		return
	}
	p.tx.Close()
}
