package connection

import (
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/parcelview/realtime-go/pkg/log"
	"github.com/parcelview/realtime-go/pkg/transport"
)

// Configuration defaults.
const (
	// DefaultMaxReconnectAttempts is the attempt budget per transport.
	DefaultMaxReconnectAttempts = 5

	// DefaultConnectTimeout bounds a single dial.
	DefaultConnectTimeout = 10 * time.Second
)

// Config configures a Manager. Immutable after construction; its lifetime
// is the Manager instance.
type Config struct {
	// Endpoint is the base URL of the realtime server. Schemes are
	// mirrored per transport (ws↔http) automatically.
	Endpoint string

	// Transports is the preference order of adapter kinds. A transport
	// is abandoned only after MaxReconnectAttempts consecutive failures.
	// Default: websocket only.
	Transports []string

	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration

	// MaxReconnectAttempts is the consecutive-failure budget per
	// transport before falling back to the next one (or Failed).
	MaxReconnectAttempts int

	// AutoReconnect enables automatic reconnection on transport failure.
	AutoReconnect bool

	// Backoff tunes the retry delay schedule.
	Backoff BackoffConfig

	// Heartbeat tunes liveness monitoring.
	Heartbeat HeartbeatConfig

	// HandshakeTimeout bounds the session join handshake.
	HandshakeTimeout time.Duration

	// MaxQueueLength bounds the outbound queue while disconnected.
	MaxQueueLength int

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// Capture receives protocol capture events. Nil disables capture.
	Capture log.Logger

	// Rand seeds backoff jitter; nil uses a time-seeded source. A seeded
	// source makes reconnect timing deterministic for tests.
	Rand *rand.Rand

	// NewAdapter creates a transport adapter for a kind and endpoint.
	// Nil uses transport.New. Tests inject fakes here.
	NewAdapter func(kind, endpoint string) (transport.Adapter, error)
}

// DefaultConfig returns a Config with production defaults for the given
// endpoint. Auto-reconnect is on.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		Transports:           []string{transport.KindWebSocket},
		ConnectTimeout:       DefaultConnectTimeout,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		AutoReconnect:        true,
		Backoff:              DefaultBackoffConfig(),
		Heartbeat:            DefaultHeartbeatConfig(),
		MaxQueueLength:       DefaultMaxQueueLength,
	}
}

// Validate checks the config for errors the defaults cannot paper over.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("connection: endpoint required")
	}
	for _, kind := range c.Transports {
		switch kind {
		case transport.KindWebSocket, transport.KindSSE, transport.KindMux:
		default:
			if c.NewAdapter == nil {
				return errors.New("connection: unknown transport kind " + kind)
			}
		}
	}
	return nil
}

// normalize fills zero fields with defaults.
func (c *Config) normalize() {
	if len(c.Transports) == 0 {
		c.Transports = []string{transport.KindWebSocket}
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.MaxQueueLength <= 0 {
		c.MaxQueueLength = DefaultMaxQueueLength
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Capture = log.OrNoop(c.Capture)
	if c.NewAdapter == nil {
		c.NewAdapter = transport.New
	}
}
