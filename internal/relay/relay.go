// Package relay implements the reference realtime server: a websocket,
// SSE and mux counterpart speaking the envelope protocol, plus a
// telemetry ingest endpoint. It is the development and integration-test
// peer for the client library, not a production backend.
package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/parcelview/realtime-go/pkg/wire"
)

// Relay defaults.
const (
	// DefaultMaxTelemetryBatches bounds the retained ingest history.
	DefaultMaxTelemetryBatches = 100

	// DefaultTelemetryRate is the per-client ingest rate (requests/sec).
	DefaultTelemetryRate = 10

	// DefaultTelemetryBurst is the per-client ingest burst.
	DefaultTelemetryBurst = 20

	// DefaultPollTimeout is how long a mux poll waits before replying
	// empty.
	DefaultPollTimeout = 25 * time.Second

	// DefaultPingInterval is advertised in the mux handshake.
	DefaultPingInterval = 30 * time.Second
)

// Config configures a relay Server.
type Config struct {
	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// MaxTelemetryBatches bounds the retained batch history.
	MaxTelemetryBatches int

	// TelemetryRate limits ingest requests per client address.
	TelemetryRate rate.Limit

	// TelemetryBurst is the per-client ingest burst.
	TelemetryBurst int

	// PollTimeout bounds a mux long poll.
	PollTimeout time.Duration

	// PingInterval is advertised to mux clients.
	PingInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTelemetryBatches: DefaultMaxTelemetryBatches,
		TelemetryRate:       DefaultTelemetryRate,
		TelemetryBurst:      DefaultTelemetryBurst,
		PollTimeout:         DefaultPollTimeout,
		PingInterval:        DefaultPingInterval,
	}
}

func (c *Config) normalize() {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.MaxTelemetryBatches <= 0 {
		c.MaxTelemetryBatches = DefaultMaxTelemetryBatches
	}
	if c.TelemetryRate <= 0 {
		c.TelemetryRate = DefaultTelemetryRate
	}
	if c.TelemetryBurst <= 0 {
		c.TelemetryBurst = DefaultTelemetryBurst
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
}

// Server is the relay. It serves all three transport endpoints plus
// telemetry ingest from one router.
type Server struct {
	cfg    Config
	log    *slog.Logger
	router *httprouter.Router

	mu         sync.Mutex
	sessions   map[string]map[*client]struct{}
	sseClients map[string]*client
	muxClients map[string]*muxClient

	telemetry *telemetryStore

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New creates a relay server.
func New(cfg Config) *Server {
	cfg.normalize()

	s := &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		sessions:   make(map[string]map[*client]struct{}),
		sseClients: make(map[string]*client),
		muxClients: make(map[string]*muxClient),
		telemetry:  newTelemetryStore(cfg.MaxTelemetryBatches),
		limiters:   make(map[string]*rate.Limiter),
	}

	r := httprouter.New()
	r.GET("/realtime/ws", s.handleWS)
	r.GET("/realtime/sse", s.handleSSE)
	r.POST("/realtime/sse/send", s.handleSSESend)
	r.GET("/realtime/mux/handshake", s.handleMuxHandshake)
	r.GET("/realtime/mux/poll", s.handleMuxPoll)
	r.POST("/realtime/mux/send", s.handleMuxSend)
	r.GET("/realtime/mux/ws", s.handleMuxWS)
	r.POST("/telemetry", s.handleTelemetry)
	r.GET("/healthz", s.handleHealth)
	s.router = r
	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// TelemetryBatches returns the retained ingest history, oldest first.
func (s *Server) TelemetryBatches() []StoredBatch {
	return s.telemetry.all()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusNoContent)
}

// ---- session bookkeeping ----

// joinSession registers the client under the envelope's session and
// announces membership: a correlated user_joined back to the joiner and a
// broadcast to the session's other members.
func (s *Server) joinSession(c *client, env *wire.Envelope) {
	c.setIdentity(env.SessionID, env.UserID, env.UserName, env.Role)

	s.mu.Lock()
	if s.sessions[env.SessionID] == nil {
		s.sessions[env.SessionID] = make(map[*client]struct{})
	}
	s.sessions[env.SessionID][c] = struct{}{}
	s.mu.Unlock()

	joined := &wire.Envelope{
		Type:      wire.TypeUserJoined,
		Timestamp: wire.Now(),
		SessionID: env.SessionID,
		UserID:    env.UserID,
		UserName:  env.UserName,
		Role:      env.Role,
	}
	c.enqueueEnv(joined)
	s.broadcast(env.SessionID, c, joined)

	s.log.Debug("client joined session",
		"conn_id", c.id, "session_id", env.SessionID, "user_id", env.UserID)
}

// leaveSession removes the client from its session, broadcasting
// user_left when announce is set.
func (s *Server) leaveSession(c *client, announce bool) {
	sessionID, userID := c.identity()
	if sessionID == "" {
		return
	}
	c.setIdentity("", "", "", "")

	s.mu.Lock()
	if members, ok := s.sessions[sessionID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(s.sessions, sessionID)
		}
	}
	s.mu.Unlock()

	if announce {
		s.broadcast(sessionID, c, &wire.Envelope{
			Type:      wire.TypeUserLeft,
			Timestamp: wire.Now(),
			SessionID: sessionID,
			UserID:    userID,
		})
	}
}

// broadcast delivers an envelope to every session member except the
// sender.
func (s *Server) broadcast(sessionID string, except *client, env *wire.Envelope) {
	s.mu.Lock()
	members := make([]*client, 0, len(s.sessions[sessionID]))
	for c := range s.sessions[sessionID] {
		if c != except {
			members = append(members, c)
		}
	}
	s.mu.Unlock()

	for _, c := range members {
		c.enqueueEnv(env)
	}
}

// sendToUser delivers an envelope only to session members with the given
// user ID.
func (s *Server) sendToUser(sessionID, userID string, env *wire.Envelope) {
	s.mu.Lock()
	var targets []*client
	for c := range s.sessions[sessionID] {
		if _, uid := c.identity(); uid == userID {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.enqueueEnv(env)
	}
}

// handleEnvelope is the shared protocol core across all transports.
func (s *Server) handleEnvelope(c *client, env *wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		c.enqueueEnv(wire.NewPong(env))

	case wire.TypeAuth, wire.TypeJoinSession:
		if env.SessionID == "" || env.UserID == "" {
			c.enqueueEnv(wire.NewError(http.StatusBadRequest, "sessionId and userId required"))
			return
		}
		s.joinSession(c, env)

	case wire.TypeLeaveSession:
		s.leaveSession(c, true)

	default:
		sessionID, _ := c.identity()
		if sessionID == "" {
			s.log.Debug("dropping envelope from sessionless client",
				"conn_id", c.id, "type", env.Type)
			return
		}
		if env.Target != "" {
			s.sendToUser(sessionID, env.Target, env)
			return
		}
		s.broadcast(sessionID, c, env)
	}
}

// dropClient tears a client down: leave with announcement, unregister
// from transport maps, release its pump.
func (s *Server) dropClient(c *client) {
	s.leaveSession(c, true)

	s.mu.Lock()
	delete(s.sseClients, c.id)
	delete(s.muxClients, c.id)
	s.mu.Unlock()

	c.close()
}
