package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx is a reusable asynchronous event transmitter that funnels
// broadcasts through a single goroutine (fan-in), the same shape as the
// teacher's internal/transport.AsyncTx but monomorphized over Event instead
// of can.Frame. It provides non-blocking enqueue semantics: if the internal
// buffer is full, Publish invokes the configured OnDrop hook and returns its
// error, so a stalled monitor hub never blocks the sender/receiver hot loop
// that is actually moving the transfer along.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(Event) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	OnError func(error)
	OnAfter func()
	OnDrop  func() error
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(Event) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan Event, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case ev, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(ev); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// ErrAsyncTxClosed is returned by Publish once Close has been called.
var ErrAsyncTxClosed = errors.New("async tx closed")

// Publish queues an event for asynchronous broadcast, or returns the drop
// error if the buffer is full.
func (a *AsyncTx) Publish(ev Event) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- ev:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
