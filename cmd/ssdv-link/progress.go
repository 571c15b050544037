package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/ssdv-link/internal/stats"
)

// progressTickInterval is independent of batch size: a running transfer's
// batch can take anywhere from well under a second to the whole
// ack-timeout, so a fixed wall-clock tick gives a steadier "N packets / M
// bytes" cadence than trying to trigger off batch boundaries (spec.md §7's
// supplemented running-progress indicator, reproduced via structured
// logging instead of a raw terminal per original_source/'s print-based
// progress bar).
const progressTickInterval = 1 * time.Second

// startProgressLogger logs a transfer_progress line on a fixed tick when
// --progress is set, until ctx is cancelled.
func startProgressLogger(ctx context.Context, role string, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(progressTickInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := stats.Snap()
				frames := snap.FramesSent
				if role == "recv" {
					frames = snap.FramesReceived
				}
				l.Info("transfer_progress",
					"role", role,
					"frames", frames,
					"bytes_written", snap.BytesWritten,
					"batches_acked", snap.BatchesACKed,
					"batches_naked", snap.BatchesNAKed,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
