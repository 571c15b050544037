package main

import (
	"context"
	"log/slog"

	"github.com/kstaniek/ssdv-link/internal/config"
	"github.com/kstaniek/ssdv-link/internal/monitor"
)

// initMonitorHub builds the telemetry hub with the configured backpressure
// policy and buffer size. Always returns a usable Hub even if the monitor
// TCP endpoint itself is disabled, since sender/receiver always take a
// *monitor.Publisher (NewNop() when there is nothing to publish to).
func initMonitorHub(cfg *config.AppConfig, l *slog.Logger) *monitor.Hub {
	h := monitor.New()
	h.OutBufSize = cfg.MonitorBuffer
	switch cfg.MonitorPolicy {
	case "drop":
		h.Policy = monitor.PolicyDrop
	case "kick":
		h.Policy = monitor.PolicyKick
	default:
		l.Warn("unknown_monitor_policy", "policy", cfg.MonitorPolicy, "used", "drop")
		h.Policy = monitor.PolicyDrop
	}
	return h
}

// startMonitorServer starts the telemetry monitor TCP server if
// --monitor-addr was given, returning a started *monitor.Server (or nil if
// disabled) and a *monitor.Publisher bound to it (NewNop() if disabled).
func startMonitorServer(ctx context.Context, cfg *config.AppConfig, h *monitor.Hub, l *slog.Logger) (*monitor.Server, *monitor.Publisher) {
	if cfg.MonitorAddr == "" {
		return nil, monitor.NewNop()
	}
	srv := monitor.NewServer(
		monitor.WithHub(h),
		monitor.WithListenAddr(cfg.MonitorAddr),
		monitor.WithMaxClients(cfg.MaxClients),
		monitor.WithLogger(l),
		monitor.WithHandshakeTimeout(cfg.HandshakeTimeout),
		monitor.WithReadDeadline(cfg.ClientReadTimeout),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("monitor_server_error", "error", err)
		}
	}()
	pub := monitor.NewPublisher(ctx, h)
	return srv, pub
}
