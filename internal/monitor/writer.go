package monitor

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/ssdv-link/internal/stats"
)

// startWriter launches the goroutine pushing hub events to one observer
// connection. There is no matching startReader: the monitor feed is
// one-directional, observers never send events back.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("monitor_observer_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]Event, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if s.readDeadline > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(s.readDeadline))
			}
			_, err := s.Codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				stats.IncError(label(wrap))
				s.setError(wrap)
				return wrap
			}
			return nil
		}
		for {
			select {
			case ev := <-cl.Out:
				batch = append(batch, ev)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
