// Command rt-probe is an interactive diagnostic client for realtime
// endpoints.
//
// It connects through the full client stack (transport fallback,
// reconnection, offline queue, session handshake, heartbeat) and exposes
// an interactive shell for driving the connection, plus optional protocol
// capture, telemetry reporting and Prometheus metrics.
//
// Usage:
//
//	rt-probe [flags]
//
// Flags:
//
//	-endpoint string      Realtime base URL (e.g. https://host/realtime)
//	-config string        YAML configuration file path
//	-transport string     Transport preference order, comma-separated
//	-session string       Session ID to join on connect
//	-user string          User ID for the session handshake
//	-name string          Display name for the session handshake
//	-role string          Role for the session handshake
//	-capture string       Write a protocol capture log to this .rtlog file
//	-metrics-addr string  Serve Prometheus metrics on this address
//	-telemetry string     Telemetry ingest URL
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Connect to a local relay over websocket
//	rt-probe -endpoint http://localhost:8080/realtime
//
//	# Force SSE, join a session and capture the protocol exchange
//	rt-probe -endpoint http://localhost:8080/realtime \
//	    -transport sse -session parcel-review-7 -user alice \
//	    -capture probe.rtlog
//
//	# Load everything from a config file
//	rt-probe -config probe.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/parcelview/realtime-go/cmd/rt-probe/interactive"
	"github.com/parcelview/realtime-go/pkg/connection"
	"github.com/parcelview/realtime-go/pkg/log"
	"github.com/parcelview/realtime-go/pkg/metrics"
	"github.com/parcelview/realtime-go/pkg/session"
	"github.com/parcelview/realtime-go/pkg/telemetry"
)

var (
	endpoint    = flag.String("endpoint", "", "Realtime base URL (e.g. https://host/realtime)")
	configPath  = flag.String("config", "", "YAML configuration file path")
	transports  = flag.String("transport", "", "Transport preference order, comma-separated (websocket, sse, mux)")
	sessionID   = flag.String("session", "", "Session ID to join on connect")
	userID      = flag.String("user", "", "User ID for the session handshake")
	userName    = flag.String("name", "", "Display name for the session handshake")
	role        = flag.String("role", "", "Role for the session handshake")
	capturePath = flag.String("capture", "", "Write a protocol capture log to this .rtlog file")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	telemetryTo = flag.String("telemetry", "", "Telemetry ingest URL")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

// duration wraps time.Duration with YAML string parsing ("30s", "1m").
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig is the YAML configuration file schema. Flags override it.
type fileConfig struct {
	Endpoint             string   `yaml:"endpoint"`
	Transports           []string `yaml:"transports"`
	ConnectTimeout       duration `yaml:"connectTimeout"`
	MaxReconnectAttempts int      `yaml:"maxReconnectAttempts"`
	AutoReconnect        *bool    `yaml:"autoReconnect"`

	Backoff struct {
		Initial duration `yaml:"initial"`
		Max     duration `yaml:"max"`
		Factor  float64  `yaml:"factor"`
		Jitter  float64  `yaml:"jitter"`
	} `yaml:"backoff"`

	Heartbeat struct {
		Interval        duration `yaml:"interval"`
		PongTimeout     duration `yaml:"pongTimeout"`
		MissedPongLimit int      `yaml:"missedPongLimit"`
	} `yaml:"heartbeat"`

	Session session.Context `yaml:"session"`

	Capture     string `yaml:"capture"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`

	Telemetry struct {
		Endpoint       string   `yaml:"endpoint"`
		MaxBatchSize   int      `yaml:"maxBatchSize"`
		ReportInterval duration `yaml:"reportInterval"`
		SampleRate     float64  `yaml:"sampleRate"`
	} `yaml:"telemetry"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return &fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

// merge applies command-line flags over the file config.
func (fc *fileConfig) merge() {
	if *endpoint != "" {
		fc.Endpoint = *endpoint
	}
	if *transports != "" {
		fc.Transports = nil
		for _, kind := range strings.Split(*transports, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				fc.Transports = append(fc.Transports, kind)
			}
		}
	}
	if *sessionID != "" {
		fc.Session.SessionID = *sessionID
	}
	if *userID != "" {
		fc.Session.UserID = *userID
	}
	if *userName != "" {
		fc.Session.UserName = *userName
	}
	if *role != "" {
		fc.Session.Role = *role
	}
	if *capturePath != "" {
		fc.Capture = *capturePath
	}
	if *metricsAddr != "" {
		fc.MetricsAddr = *metricsAddr
	}
	if *telemetryTo != "" {
		fc.Telemetry.Endpoint = *telemetryTo
	}
	if *logLevel != "" {
		fc.LogLevel = *logLevel
	}
}

// connectionConfig builds the manager config from the merged settings.
func (fc *fileConfig) connectionConfig() connection.Config {
	cfg := connection.DefaultConfig(fc.Endpoint)
	if len(fc.Transports) > 0 {
		cfg.Transports = fc.Transports
	}
	if fc.ConnectTimeout > 0 {
		cfg.ConnectTimeout = time.Duration(fc.ConnectTimeout)
	}
	if fc.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = fc.MaxReconnectAttempts
	}
	if fc.AutoReconnect != nil {
		cfg.AutoReconnect = *fc.AutoReconnect
	}
	if fc.Backoff.Initial > 0 {
		cfg.Backoff.Initial = time.Duration(fc.Backoff.Initial)
	}
	if fc.Backoff.Max > 0 {
		cfg.Backoff.Max = time.Duration(fc.Backoff.Max)
	}
	if fc.Backoff.Factor > 0 {
		cfg.Backoff.Factor = fc.Backoff.Factor
	}
	if fc.Backoff.Jitter > 0 {
		cfg.Backoff.Jitter = fc.Backoff.Jitter
	}
	if fc.Heartbeat.Interval > 0 {
		cfg.Heartbeat.Interval = time.Duration(fc.Heartbeat.Interval)
	}
	if fc.Heartbeat.PongTimeout > 0 {
		cfg.Heartbeat.PongTimeout = time.Duration(fc.Heartbeat.PongTimeout)
	}
	if fc.Heartbeat.MissedPongLimit > 0 {
		cfg.Heartbeat.MissedPongLimit = fc.Heartbeat.MissedPongLimit
	}
	return cfg
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fc.merge()

	if fc.Endpoint == "" {
		fmt.Fprintln(os.Stderr, "Error: endpoint required (-endpoint flag or config file)")
		return 1
	}

	level, err := parseLevel(fc.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Protocol capture log, shared by the connection and the batcher.
	var capture log.Logger
	if fc.Capture != "" {
		fileLogger, err := log.NewFileLogger(fc.Capture)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open capture file: %v\n", err)
			return 1
		}
		defer fileLogger.Close()
		capture = fileLogger
		logger.Info("capture log enabled", "path", fc.Capture)
	}

	var batcher *telemetry.Batcher
	if fc.Telemetry.Endpoint != "" {
		tcfg := telemetry.DefaultConfig(fc.Telemetry.Endpoint)
		if fc.Telemetry.MaxBatchSize > 0 {
			tcfg.MaxBatchSize = fc.Telemetry.MaxBatchSize
		}
		if fc.Telemetry.ReportInterval > 0 {
			tcfg.ReportInterval = time.Duration(fc.Telemetry.ReportInterval)
		}
		tcfg.SampleRate = fc.Telemetry.SampleRate
		tcfg.DeviceInfo = telemetry.DeviceInfo{Platform: "probe", AppVersion: "dev"}
		tcfg.Logger = logger
		tcfg.Capture = capture
		batcher = telemetry.NewBatcher(tcfg)
		defer batcher.Close()
	}

	ccfg := fc.connectionConfig()
	ccfg.Logger = logger
	ccfg.Capture = capture

	// Metrics collector follows the shell's current manager.
	var (
		registry  *prometheus.Registry
		collector *metrics.Collector
	)
	if fc.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
	}
	onManager := func(old, next *connection.Manager) {
		if registry == nil {
			return
		}
		if collector != nil {
			registry.Unregister(collector)
		}
		collector = metrics.NewCollector(next, batcher)
		registry.MustRegister(collector)
	}

	probe, err := interactive.New(interactive.Config{
		Connection: ccfg,
		Batcher:    batcher,
		OnManager:  onManager,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer probe.Close()

	var metricsSrv *http.Server
	if registry != nil {
		metricsSrv = &http.Server{
			Addr:    fc.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			logger.Info("metrics listening", "addr", fc.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	if fc.Session.Valid() {
		probe.Manager().SetSession(fc.Session)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := probe.Manager().Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	probe.Run(ctx, cancel)
	return 0
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
