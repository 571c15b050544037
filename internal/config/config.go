// Package config parses the ssdv-link CLI surface: POSIX flags, environment
// variable overrides, and an optional YAML file of protocol/link defaults,
// in that order of decreasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// AppConfig holds every flag-configurable value shared by the send and recv
// roles, plus the process-wide ambient settings (logging, metrics, the
// optional telemetry monitor and its mDNS advertisement).
type AppConfig struct {
	SerialPort string
	Baud       int

	BatchSize        int
	AckTimeout       time.Duration
	ReceiveTimeout   time.Duration
	SyncTimeout      time.Duration
	InterPacketDelay time.Duration
	MaxRetries       int

	LogFormat       string
	LogLevel        string
	MetricsAddr     string
	LogMetricsEvery time.Duration

	MonitorAddr       string
	MonitorBuffer     int
	MonitorPolicy     string
	MaxClients        int
	HandshakeTimeout  time.Duration
	ClientReadTimeout time.Duration
	MDNSEnable        bool
	MDNSName          string

	// File is the data file path: the source for send, the destination for
	// recv (spec.md §6.2's shared --ssdv <file> flag on both roles).
	File string
	// ExplicitLength overrides the receiver's trailing-zero-truncation
	// heuristic when >= 0 (internal/receiver.Options.ExplicitLength).
	ExplicitLength int
	// Progress logs a transfer_progress line on a fixed one-second tick
	// (cmd/ssdv-link/progress.go; the supplemented running-progress feature
	// from original_source/).
	Progress bool

	ConfigFile string
}

// yamlConfig mirrors the subset of AppConfig that a YAML file may supply.
// Pointer fields distinguish "absent from file" from "zero value in file".
type yamlConfig struct {
	SerialPort *string `yaml:"serial_port"`
	Baud       *int    `yaml:"baud"`

	BatchSize        *int    `yaml:"batch_size"`
	AckTimeout       *string `yaml:"ack_timeout"`
	ReceiveTimeout   *string `yaml:"receive_timeout"`
	SyncTimeout      *string `yaml:"sync_timeout"`
	InterPacketDelay *string `yaml:"inter_packet_delay"`
	MaxRetries       *int    `yaml:"max_retries"`

	LogFormat       *string `yaml:"log_format"`
	LogLevel        *string `yaml:"log_level"`
	MetricsAddr     *string `yaml:"metrics_addr"`
	LogMetricsEvery *string `yaml:"log_metrics_interval"`

	MonitorAddr       *string `yaml:"monitor_addr"`
	MonitorBuffer     *int    `yaml:"monitor_buffer"`
	MonitorPolicy     *string `yaml:"monitor_policy"`
	MaxClients        *int    `yaml:"max_clients"`
	HandshakeTimeout  *string `yaml:"handshake_timeout"`
	ClientReadTimeout *string `yaml:"client_read_timeout"`
	MDNSEnable        *bool   `yaml:"mdns_enable"`
	MDNSName          *string `yaml:"mdns_name"`
}

// ParseFlags parses args (the arguments after the subcommand) with its own
// pflag.FlagSet, layers SSDV_LINK_* environment variables and an optional --config YAML
// file below it, and validates the result. The returned bool reports
// whether --version was given (callers print the version and exit before
// looking at the rest of cfg).
func ParseFlags(args []string) (*AppConfig, bool, error) {
	fs := pflag.NewFlagSet("ssdv-link", pflag.ContinueOnError)

	cfg := &AppConfig{}
	serialPort := fs.StringP("port", "p", "loop://", "Serial device path, or loop:// for the in-memory loopback link")
	baud := fs.Int("baud", 9600, "Serial baud rate")
	batchSize := fs.Int("batch-size", 100, "Packets per batch acknowledgement unit")
	ackTimeout := fs.Duration("ack-timeout", 25*time.Second, "Sender's wait for a batch verdict")
	receiveTimeout := fs.Duration("receive-timeout", 30*time.Second, "Receiver idle timeout")
	syncTimeout := fs.Duration("sync-timeout", 10*time.Second, "Receiver initial sync timeout")
	interPacketDelay := fs.Duration("inter-packet-delay", 100*time.Millisecond, "Sender pacing delay between packets")
	maxRetries := fs.Int("max-retries", 5, "Sender attempts per batch before giving up")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Prometheus HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log a metrics_snapshot line")
	monitorAddr := fs.String("monitor-addr", "", "Telemetry monitor TCP listen address (e.g. :20000); empty disables")
	monitorBuffer := fs.Int("monitor-buffer", 512, "Per-observer monitor event buffer size")
	monitorPolicy := fs.String("monitor-policy", "drop", "Monitor backpressure policy: drop|kick")
	maxClients := fs.Int("max-clients", 0, "Maximum simultaneous monitor observers (0 = unlimited)")
	handshakeTimeout := fs.Duration("handshake-timeout", 3*time.Second, "Monitor observer handshake timeout")
	clientReadTimeout := fs.Duration("client-read-timeout", 60*time.Second, "Monitor observer write deadline per flush")
	mdnsEnable := fs.Bool("mdns-enable", false, "Advertise the telemetry monitor over mDNS (_ssdv-link._tcp)")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default ssdv-link-<hostname>)")
	configFile := fs.String("config", "", "Optional YAML file of protocol/link defaults")
	file := fs.String("ssdv", "", "Data file path: source for send, destination for recv")
	explicitLength := fs.Int("explicit-length", -1, "Receiver: exact byte length to truncate to (-1 selects the trailing-zero heuristic)")
	progress := fs.Bool("progress", false, "Log a transfer_progress line every second")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { setFlags[f.Name] = true })

	cfg.SerialPort = *serialPort
	cfg.Baud = *baud
	cfg.BatchSize = *batchSize
	cfg.AckTimeout = *ackTimeout
	cfg.ReceiveTimeout = *receiveTimeout
	cfg.SyncTimeout = *syncTimeout
	cfg.InterPacketDelay = *interPacketDelay
	cfg.MaxRetries = *maxRetries
	cfg.LogFormat = *logFormat
	cfg.LogLevel = *logLevel
	cfg.MetricsAddr = *metricsAddr
	cfg.LogMetricsEvery = *logMetricsEvery
	cfg.MonitorAddr = *monitorAddr
	cfg.MonitorBuffer = *monitorBuffer
	cfg.MonitorPolicy = *monitorPolicy
	cfg.MaxClients = *maxClients
	cfg.HandshakeTimeout = *handshakeTimeout
	cfg.ClientReadTimeout = *clientReadTimeout
	cfg.MDNSEnable = *mdnsEnable
	cfg.MDNSName = *mdnsName
	cfg.File = *file
	cfg.ExplicitLength = *explicitLength
	cfg.Progress = *progress
	cfg.ConfigFile = *configFile

	if cfg.ConfigFile != "" {
		yc, err := loadYAML(cfg.ConfigFile)
		if err != nil {
			return nil, *showVersion, fmt.Errorf("config: %w", err)
		}
		if err := applyYAML(cfg, yc, setFlags); err != nil {
			return nil, *showVersion, fmt.Errorf("config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, *showVersion, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, *showVersion, fmt.Errorf("config: %w", err)
	}
	return cfg, *showVersion, nil
}

// Validate performs semantic range checks. It never touches the filesystem
// or network — only the values already parsed.
func (c *AppConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	switch c.MonitorPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid monitor-policy: %s", c.MonitorPolicy)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.Baud)
	}
	if c.BatchSize <= 0 || c.BatchSize > 255 {
		return fmt.Errorf("batch-size must be in [1,255] (got %d)", c.BatchSize)
	}
	if c.AckTimeout <= 0 {
		return errors.New("ack-timeout must be > 0")
	}
	if c.ReceiveTimeout <= 0 {
		return errors.New("receive-timeout must be > 0")
	}
	if c.SyncTimeout <= 0 {
		return errors.New("sync-timeout must be > 0")
	}
	if c.InterPacketDelay < 0 {
		return errors.New("inter-packet-delay must be >= 0")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be > 0 (got %d)", c.MaxRetries)
	}
	if c.MonitorBuffer <= 0 {
		return fmt.Errorf("monitor-buffer must be > 0 (got %d)", c.MonitorBuffer)
	}
	if c.MaxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.ClientReadTimeout <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	return nil
}

func loadYAML(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &yc, nil
}

// applyYAML fills cfg fields from yc, skipping any field whose flag was
// explicitly set (flags always outrank the YAML file).
func applyYAML(cfg *AppConfig, yc *yamlConfig, set map[string]bool) error {
	var firstErr error
	parseDur := func(name, s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("yaml %s: %w", name, err)
			}
			return 0, false
		}
		return d, true
	}

	if yc.SerialPort != nil && !set["port"] {
		cfg.SerialPort = *yc.SerialPort
	}
	if yc.Baud != nil && !set["baud"] {
		cfg.Baud = *yc.Baud
	}
	if yc.BatchSize != nil && !set["batch-size"] {
		cfg.BatchSize = *yc.BatchSize
	}
	if yc.AckTimeout != nil && !set["ack-timeout"] {
		if d, ok := parseDur("ack_timeout", *yc.AckTimeout); ok {
			cfg.AckTimeout = d
		}
	}
	if yc.ReceiveTimeout != nil && !set["receive-timeout"] {
		if d, ok := parseDur("receive_timeout", *yc.ReceiveTimeout); ok {
			cfg.ReceiveTimeout = d
		}
	}
	if yc.SyncTimeout != nil && !set["sync-timeout"] {
		if d, ok := parseDur("sync_timeout", *yc.SyncTimeout); ok {
			cfg.SyncTimeout = d
		}
	}
	if yc.InterPacketDelay != nil && !set["inter-packet-delay"] {
		if d, ok := parseDur("inter_packet_delay", *yc.InterPacketDelay); ok {
			cfg.InterPacketDelay = d
		}
	}
	if yc.MaxRetries != nil && !set["max-retries"] {
		cfg.MaxRetries = *yc.MaxRetries
	}
	if yc.LogFormat != nil && !set["log-format"] {
		cfg.LogFormat = *yc.LogFormat
	}
	if yc.LogLevel != nil && !set["log-level"] {
		cfg.LogLevel = *yc.LogLevel
	}
	if yc.MetricsAddr != nil && !set["metrics-addr"] {
		cfg.MetricsAddr = *yc.MetricsAddr
	}
	if yc.LogMetricsEvery != nil && !set["log-metrics-interval"] {
		if d, ok := parseDur("log_metrics_interval", *yc.LogMetricsEvery); ok {
			cfg.LogMetricsEvery = d
		}
	}
	if yc.MonitorAddr != nil && !set["monitor-addr"] {
		cfg.MonitorAddr = *yc.MonitorAddr
	}
	if yc.MonitorBuffer != nil && !set["monitor-buffer"] {
		cfg.MonitorBuffer = *yc.MonitorBuffer
	}
	if yc.MonitorPolicy != nil && !set["monitor-policy"] {
		cfg.MonitorPolicy = *yc.MonitorPolicy
	}
	if yc.MaxClients != nil && !set["max-clients"] {
		cfg.MaxClients = *yc.MaxClients
	}
	if yc.HandshakeTimeout != nil && !set["handshake-timeout"] {
		if d, ok := parseDur("handshake_timeout", *yc.HandshakeTimeout); ok {
			cfg.HandshakeTimeout = d
		}
	}
	if yc.ClientReadTimeout != nil && !set["client-read-timeout"] {
		if d, ok := parseDur("client_read_timeout", *yc.ClientReadTimeout); ok {
			cfg.ClientReadTimeout = d
		}
	}
	if yc.MDNSEnable != nil && !set["mdns-enable"] {
		cfg.MDNSEnable = *yc.MDNSEnable
	}
	if yc.MDNSName != nil && !set["mdns-name"] {
		cfg.MDNSName = *yc.MDNSName
	}
	return firstErr
}

// applyEnvOverrides maps SSDV_LINK_* environment variables onto cfg, unless
// the corresponding flag was explicitly set (flags always outrank env, and
// env always outranks whatever the YAML tier already applied).
func applyEnvOverrides(c *AppConfig, set map[string]bool) error {
	var firstErr error
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	dur := func(env string, dst *time.Duration) {
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	num := func(env string, dst *int) {
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	if !set["port"] {
		if v, ok := get("SSDV_LINK_PORT"); ok && v != "" {
			c.SerialPort = v
		}
	}
	if !set["baud"] {
		num("SSDV_LINK_BAUD", &c.Baud)
	}
	if !set["batch-size"] {
		num("SSDV_LINK_BATCH_SIZE", &c.BatchSize)
	}
	if !set["ack-timeout"] {
		dur("SSDV_LINK_ACK_TIMEOUT", &c.AckTimeout)
	}
	if !set["receive-timeout"] {
		dur("SSDV_LINK_RECEIVE_TIMEOUT", &c.ReceiveTimeout)
	}
	if !set["sync-timeout"] {
		dur("SSDV_LINK_SYNC_TIMEOUT", &c.SyncTimeout)
	}
	if !set["inter-packet-delay"] {
		dur("SSDV_LINK_INTER_PACKET_DELAY", &c.InterPacketDelay)
	}
	if !set["max-retries"] {
		num("SSDV_LINK_MAX_RETRIES", &c.MaxRetries)
	}
	if !set["log-format"] {
		if v, ok := get("SSDV_LINK_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if !set["log-level"] {
		if v, ok := get("SSDV_LINK_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if !set["metrics-addr"] {
		if v, ok := get("SSDV_LINK_METRICS_ADDR"); ok {
			c.MetricsAddr = v
		}
	}
	if !set["log-metrics-interval"] {
		dur("SSDV_LINK_LOG_METRICS_INTERVAL", &c.LogMetricsEvery)
	}
	if !set["monitor-addr"] {
		if v, ok := get("SSDV_LINK_MONITOR_ADDR"); ok {
			c.MonitorAddr = v
		}
	}
	if !set["monitor-buffer"] {
		num("SSDV_LINK_MONITOR_BUFFER", &c.MonitorBuffer)
	}
	if !set["monitor-policy"] {
		if v, ok := get("SSDV_LINK_MONITOR_POLICY"); ok && v != "" {
			c.MonitorPolicy = v
		}
	}
	if !set["max-clients"] {
		num("SSDV_LINK_MAX_CLIENTS", &c.MaxClients)
	}
	if !set["handshake-timeout"] {
		dur("SSDV_LINK_HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	}
	if !set["client-read-timeout"] {
		dur("SSDV_LINK_CLIENT_READ_TIMEOUT", &c.ClientReadTimeout)
	}
	if !set["mdns-enable"] {
		if v, ok := get("SSDV_LINK_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MDNSEnable = true
			case "0", "false", "no", "off":
				c.MDNSEnable = false
			}
		}
	}
	if !set["mdns-name"] {
		if v, ok := get("SSDV_LINK_MDNS_NAME"); ok && v != "" {
			c.MDNSName = v
		}
	}
	return firstErr
}
