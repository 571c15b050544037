package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/ssdv-link/internal/stats"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := stats.Snap()
				l.Info("metrics_snapshot",
					"frames_sent", snap.FramesSent,
					"frames_received", snap.FramesReceived,
					"frames_corrupt", snap.FramesCorrupt,
					"frames_duplicate", snap.FramesDuplicate,
					"batches_acked", snap.BatchesACKed,
					"batches_naked", snap.BatchesNAKed,
					"retries", snap.Retries,
					"bytes_written", snap.BytesWritten,
					"sync_losses", snap.SyncLosses,
					"timeouts", snap.Timeouts,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
