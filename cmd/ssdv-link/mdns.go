package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/ssdv-link/internal/config"
)

// mdnsServiceType matches SPEC_FULL.md §11.3: the monitor endpoint is
// advertised as a LAN-local debugging aid, not part of the radio protocol.
const mdnsServiceType = "_ssdv-link._tcp"

// startMDNS registers the telemetry monitor via mDNS and returns a cleanup
// function. Safe to call even when disabled (no-op).
func startMDNS(ctx context.Context, cfg *config.AppConfig, port int) (func(), error) {
	if !cfg.MDNSEnable {
		return func() {}, nil
	}
	instance := cfg.MDNSName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("ssdv-link-%s", host)
	}
	meta := []string{
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
