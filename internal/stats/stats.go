// Package stats exposes the transfer session's counters, both as
// Prometheus series for external scraping and as a cheap local mirror for
// in-process logging, the way the teacher's internal/metrics package
// serves both /metrics and periodic log-line snapshots from the same
// counters.
package stats

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/ssdv-link/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_frames_sent_total",
		Help: "Total data frames transmitted.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_frames_received_total",
		Help: "Total data frames accepted by the receiver (CRC-valid, de-duplicated).",
	})
	FramesCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_frames_corrupt_total",
		Help: "Total candidate frames rejected by length or CRC check.",
	})
	FramesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_frames_duplicate_total",
		Help: "Total frames discarded as duplicates of an already-received sequence number.",
	})
	BatchesACKed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_batches_acked_total",
		Help: "Total batches that closed with a clean ACK verdict.",
	})
	BatchesNAKed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_batches_naked_total",
		Help: "Total batches that closed with at least one NAK verdict.",
	})
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_retries_total",
		Help: "Total batch-retry attempts (resend due to NAK or ACK timeout).",
	})
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_bytes_written_total",
		Help: "Total payload bytes written to the receiver's sink.",
	})
	SyncLosses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_sync_losses_total",
		Help: "Total times the deframer discarded noise while resynchronising.",
	})
	Timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_timeouts_total",
		Help: "Total protocol timeouts (inactivity or ACK wait).",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssdv_link_errors_total",
		Help: "Terminal error counters by taxonomy label.",
	}, []string{"kind"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ssdv_link_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	MonitorEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_monitor_events_dropped_total",
		Help: "Total telemetry events dropped by the monitor hub due to a slow observer.",
	})
	MonitorClientsKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_monitor_clients_kicked_total",
		Help: "Total monitor observers disconnected by the backpressure kick policy.",
	})
	MonitorClientsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssdv_link_monitor_clients_rejected_total",
		Help: "Total monitor connection attempts rejected (e.g. max observers reached).",
	})
	MonitorActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssdv_link_monitor_active_clients",
		Help: "Current number of connected monitor observers.",
	})
	MonitorBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssdv_link_monitor_broadcast_fanout",
		Help: "Number of observers targeted in the most recent event broadcast.",
	})
	MonitorQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssdv_link_monitor_queue_depth_max",
		Help: "Observed max queued events among observers since the last broadcast.",
	})
	MonitorQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssdv_link_monitor_queue_depth_avg",
		Help: "Approximate average queued events per observer since the last broadcast.",
	})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// SetMonitorClients records the current observer count.
func SetMonitorClients(n int) { MonitorActiveClients.Set(float64(n)) }

// SetMonitorFanout records the most recent broadcast's target count.
func SetMonitorFanout(n int) { MonitorBroadcastFanout.Set(float64(n)) }

// SetMonitorQueueDepth records the max/avg queue depth sampled during a broadcast.
func SetMonitorQueueDepth(max, avg int) {
	MonitorQueueDepthMax.Set(float64(max))
	MonitorQueueDepthAvg.Set(float64(avg))
}

// IncMonitorDrop counts one event dropped for a slow observer.
func IncMonitorDrop() { MonitorEventsDropped.Inc() }

// IncMonitorKick counts one observer disconnected by the kick policy.
func IncMonitorKick() { MonitorClientsKicked.Inc() }

// IncMonitorReject counts one connection rejected (e.g. max observers).
func IncMonitorReject() { MonitorClientsRejected.Inc() }

var (
	localFramesSent      uint64
	localFramesReceived  uint64
	localFramesCorrupt   uint64
	localFramesDuplicate uint64
	localBatchesACKed    uint64
	localBatchesNAKed    uint64
	localRetries         uint64
	localBytesWritten    uint64
	localSyncLosses      uint64
	localTimeouts        uint64
	localErrors          uint64
)

// Snapshot is a cheap copy of the local counters, used for periodic log
// lines without touching the Prometheus registry.
type Snapshot struct {
	FramesSent      uint64
	FramesReceived  uint64
	FramesCorrupt   uint64
	FramesDuplicate uint64
	BatchesACKed    uint64
	BatchesNAKed    uint64
	Retries         uint64
	BytesWritten    uint64
	SyncLosses      uint64
	Timeouts        uint64
	Errors          uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesSent:      atomic.LoadUint64(&localFramesSent),
		FramesReceived:  atomic.LoadUint64(&localFramesReceived),
		FramesCorrupt:   atomic.LoadUint64(&localFramesCorrupt),
		FramesDuplicate: atomic.LoadUint64(&localFramesDuplicate),
		BatchesACKed:    atomic.LoadUint64(&localBatchesACKed),
		BatchesNAKed:    atomic.LoadUint64(&localBatchesNAKed),
		Retries:         atomic.LoadUint64(&localRetries),
		BytesWritten:    atomic.LoadUint64(&localBytesWritten),
		SyncLosses:      atomic.LoadUint64(&localSyncLosses),
		Timeouts:        atomic.LoadUint64(&localTimeouts),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

func IncFramesSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

func IncFramesReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localFramesReceived, 1)
}

func IncFramesCorrupt() {
	FramesCorrupt.Inc()
	atomic.AddUint64(&localFramesCorrupt, 1)
}

func IncFramesDuplicate() {
	FramesDuplicate.Inc()
	atomic.AddUint64(&localFramesDuplicate, 1)
}

func IncBatchesACKed() {
	BatchesACKed.Inc()
	atomic.AddUint64(&localBatchesACKed, 1)
}

func IncBatchesNAKed() {
	BatchesNAKed.Inc()
	atomic.AddUint64(&localBatchesNAKed, 1)
}

func IncRetries() {
	Retries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func AddBytesWritten(n int) {
	BytesWritten.Add(float64(n))
	atomic.AddUint64(&localBytesWritten, uint64(n))
}

func IncSyncLosses() {
	SyncLosses.Inc()
	atomic.AddUint64(&localSyncLosses, 1)
}

func IncTimeouts() {
	Timeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build-info gauge once at startup.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// SetReadinessFunc registers the function /ready consults.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady invokes the registered readiness function, defaulting to true
// when none is set so the endpoint doesn't flap before startup finishes.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves /metrics and /ready on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("stats_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("stats_http_error", "error", err)
		}
	}()
	return srv
}
