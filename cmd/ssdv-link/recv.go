package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/ssdv-link/internal/config"
	"github.com/kstaniek/ssdv-link/internal/link"
	"github.com/kstaniek/ssdv-link/internal/receiver"
	"github.com/kstaniek/ssdv-link/internal/sink"
	"github.com/kstaniek/ssdv-link/internal/stats"
)

// runRecv implements the `recv --ssdv <file> --port <port> --baud <n=9600>`
// subcommand (spec.md §6.2), sharing recv's ambient stack with send.
func runRecv(args []string) error {
	cfg, showVersion, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	if showVersion {
		printVersion()
		return nil
	}
	if cfg.File == "" {
		return fmt.Errorf("recv: --ssdv <file> is required")
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	sk, err := sink.OpenFileSink(cfg.File)
	if err != nil {
		return err
	}

	port, err := link.OpenAddr(cfg.SerialPort, cfg.Baud, 0)
	if err != nil {
		return fmt.Errorf("recv: open link: %w", err)
	}
	defer port.Close()

	h := initMonitorHub(cfg, l)
	monSrv, pub := startMonitorServer(ctx, cfg, h, l)
	defer pub.Close()
	startMDNSForMonitor(ctx, cfg, monSrv, l)

	if cfg.MetricsAddr != "" {
		stats.InitBuildInfo(version, commit, date)
		httpSrv := stats.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}
	stats.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	if cfg.Progress {
		startProgressLogger(ctx, "recv", l, &wg)
	}

	opts := receiver.Options{
		BatchSize:      cfg.BatchSize,
		SyncTimeout:    cfg.SyncTimeout,
		ReceiveTimeout: cfg.ReceiveTimeout,
		Monitor:        pub,
	}
	if cfg.ExplicitLength >= 0 {
		explicitLength := cfg.ExplicitLength
		opts.ExplicitLength = &explicitLength
	}
	r := receiver.New(port, sk, opts)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		l.Info("shutdown_signal", "signal", sig.String())
		cancel()
	}()

	start := time.Now()
	result, recvErr := r.Run(ctx)
	elapsed := time.Since(start)
	snap := stats.Snap()

	l.Info("session_summary",
		"role", "recv",
		"state", result.State.String(),
		"bytes_written", result.BytesWritten,
		"max_seq", result.MaxSeq,
		"frames_received", snap.FramesReceived,
		"frames_corrupt", snap.FramesCorrupt,
		"frames_duplicate", snap.FramesDuplicate,
		"elapsed", elapsed.String(),
	)

	cancel()
	wg.Wait()
	if recvErr != nil {
		fmt.Fprintln(os.Stderr, "FAILED")
		return recvErr
	}
	fmt.Println("OK")
	return nil
}
