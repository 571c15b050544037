package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/ssdv-link/internal/config"
	"github.com/kstaniek/ssdv-link/internal/link"
	"github.com/kstaniek/ssdv-link/internal/monitor"
	"github.com/kstaniek/ssdv-link/internal/sender"
	"github.com/kstaniek/ssdv-link/internal/sink"
	"github.com/kstaniek/ssdv-link/internal/stats"
)

// runSend implements the `send --ssdv <file> --port <port> --baud <n=9600>`
// subcommand (spec.md §6.2), plus the ambient stack shared with recv:
// logging, metrics, the telemetry monitor, and mDNS advertisement.
func runSend(args []string) error {
	cfg, showVersion, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	if showVersion {
		printVersion()
		return nil
	}
	if cfg.File == "" {
		return fmt.Errorf("send: --ssdv <file> is required")
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	source, err := sink.OpenFileSource(cfg.File)
	if err != nil {
		return err
	}

	port, err := link.OpenAddr(cfg.SerialPort, cfg.Baud, 0)
	if err != nil {
		return fmt.Errorf("send: open link: %w", err)
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

	opt := sender.Options{
		BatchSize:  cfg.BatchSize,
		AckTimeout: cfg.AckTimeout,
		Pacing:     cfg.InterPacketDelay,
		MaxRetries: cfg.MaxRetries,
		Monitor:    pub,
	}
	if cfg.Progress {
		startProgressLogger(ctx, "send", l, &wg)
	}
	s := sender.New(port, opt)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		l.Info("shutdown_signal", "signal", sig.String())
		cancel()
	}()

	start := time.Now()
	sendErr := s.SendStream(ctx, source)
	elapsed := time.Since(start)
	snap := stats.Snap()

	l.Info("session_summary",
		"role", "send",
		"frames_sent", snap.FramesSent,
		"retries", snap.Retries,
		"batches_acked", snap.BatchesACKed,
		"batches_naked", snap.BatchesNAKed,
		"elapsed", elapsed.String(),
	)

	cancel()
	wg.Wait()
	if sendErr != nil {
		fmt.Fprintln(os.Stderr, "FAILED")
		return sendErr
	}
	fmt.Println("OK")
	return nil
}

// startMDNSForMonitor wires mDNS advertisement of the monitor endpoint to
// the server's Ready signal, once its listener has a known port, mirroring
// the teacher's main.go port-extraction dance.
func startMDNSForMonitor(ctx context.Context, cfg *config.AppConfig, srv *monitor.Server, l *slog.Logger) {
	if srv == nil || !cfg.MDNSEnable {
		return
	}
	go func() {
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanup, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName, "port", portNum)
		go func() { <-ctx.Done(); cleanup() }()
	}()
}
