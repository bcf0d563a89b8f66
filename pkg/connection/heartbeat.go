package connection

import (
	"sync"
	"sync/atomic"
	"time"
)

// Heartbeat constants.
const (
	// DefaultHeartbeatInterval is the default interval between pings.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultPongTimeout is the default timeout waiting for a pong.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMissedPongLimit is the number of consecutive missed pongs
	// treated as a dead connection. Two misses guard against "half-open"
	// sockets that the transport itself never reports as closed.
	DefaultMissedPongLimit = 2
)

// HeartbeatConfig configures liveness monitoring.
type HeartbeatConfig struct {
	// Interval between pings.
	Interval time.Duration

	// PongTimeout is how long a ping waits for its pong.
	PongTimeout time.Duration

	// MissedPongLimit is the number of consecutive missed pongs before
	// the connection is declared dead.
	MissedPongLimit int
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:        DefaultHeartbeatInterval,
		PongTimeout:     DefaultPongTimeout,
		MissedPongLimit: DefaultMissedPongLimit,
	}
}

// DetectionDelay is the maximum time to detect connection loss with this
// configuration.
func (c HeartbeatConfig) DetectionDelay() time.Duration {
	return c.Interval*time.Duration(c.MissedPongLimit) + c.PongTimeout
}

// Heartbeat monitors connection liveness while Connected: it sends a ping
// envelope every Interval and awaits the matching pong. Missing
// MissedPongLimit consecutive pongs triggers onTimeout, forcing a
// reconnect even if the transport has not reported closure.
type Heartbeat struct {
	config HeartbeatConfig

	// Callbacks
	sendPing  func(seq uint64) bool
	onTimeout func()
	onLatency func(latency time.Duration)

	// State
	sequence     atomic.Uint64
	missedPongs  int
	lastPingTime time.Time
	lastPongTime time.Time
	pendingPing  uint64
	hasPending   bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pongCh  chan pongSample
}

type pongSample struct {
	seq    uint64
	echoed int64 // the ping's send timestamp, unix millis
}

// NewHeartbeat creates a heartbeat monitor. Zero config fields use defaults.
func NewHeartbeat(config HeartbeatConfig, sendPing func(seq uint64) bool, onTimeout func()) *Heartbeat {
	if config.Interval <= 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MissedPongLimit <= 0 {
		config.MissedPongLimit = DefaultMissedPongLimit
	}

	return &Heartbeat{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		pongCh:    make(chan pongSample, 1),
	}
}

// SetLatencyCallback sets a callback invoked with each measured round trip.
func (hb *Heartbeat) SetLatencyCallback(cb func(latency time.Duration)) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.onLatency = cb
}

// Start begins the monitoring loop.
func (hb *Heartbeat) Start() {
	hb.mu.Lock()
	if hb.running {
		hb.mu.Unlock()
		return
	}
	hb.running = true
	hb.stopCh = make(chan struct{})
	hb.mu.Unlock()

	go hb.loop()
}

// Stop stops the monitoring loop. Idempotent.
func (hb *Heartbeat) Stop() {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if !hb.running {
		return
	}
	hb.running = false
	close(hb.stopCh)
}

// PongReceived should be called when a pong envelope arrives. echoed is
// the ping timestamp the pong carries back (unix millis).
func (hb *Heartbeat) PongReceived(seq uint64, echoed int64) {
	select {
	case hb.pongCh <- pongSample{seq: seq, echoed: echoed}:
	default:
		// Channel full, drop (shouldn't happen in practice)
	}
}

// IsRunning returns true if monitoring is active.
func (hb *Heartbeat) IsRunning() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.running
}

// HeartbeatStats contains heartbeat statistics.
type HeartbeatStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	MissedPongs  int
	CurrentSeq   uint64
}

// Stats returns current heartbeat statistics.
func (hb *Heartbeat) Stats() HeartbeatStats {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return HeartbeatStats{
		LastPingTime: hb.lastPingTime,
		LastPongTime: hb.lastPongTime,
		MissedPongs:  hb.missedPongs,
		CurrentSeq:   hb.sequence.Load(),
	}
}

func (hb *Heartbeat) loop() {
	ticker := time.NewTicker(hb.config.Interval)
	defer ticker.Stop()

	hb.mu.Lock()
	stopCh := hb.stopCh
	hb.mu.Unlock()

	// Send initial ping
	hb.sendPingMessage()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !hb.handleTick() {
				return
			}
		case sample := <-hb.pongCh:
			hb.handlePong(sample)
		}
	}
}

func (hb *Heartbeat) sendPingMessage() {
	seq := hb.sequence.Add(1)

	hb.mu.Lock()
	hb.lastPingTime = time.Now()
	hb.pendingPing = seq
	hb.hasPending = true
	hb.mu.Unlock()

	if !hb.sendPing(seq) {
		// Send failed - the connection is likely dead; let the pong
		// timeout accounting handle it.
		hb.mu.Lock()
		hb.hasPending = false
		hb.missedPongs++
		hb.mu.Unlock()
	}
}

// handleTick returns false when the connection was declared dead.
func (hb *Heartbeat) handleTick() bool {
	hb.mu.Lock()

	if hb.hasPending {
		elapsed := time.Since(hb.lastPingTime)
		if elapsed >= hb.config.PongTimeout {
			hb.missedPongs++
			hb.hasPending = false
		}
	}

	dead := hb.missedPongs >= hb.config.MissedPongLimit
	hb.mu.Unlock()

	if dead {
		if hb.onTimeout != nil {
			hb.onTimeout()
		}
		return false
	}

	hb.sendPingMessage()
	return true
}

func (hb *Heartbeat) handlePong(sample pongSample) {
	hb.mu.Lock()

	now := time.Now()
	hb.lastPongTime = now

	if !hb.hasPending || sample.seq != hb.pendingPing {
		// Delayed pong from a previous ping; ignore.
		hb.mu.Unlock()
		return
	}

	// latency = now − echoed send timestamp; fall back to the locally
	// recorded ping time when the peer echoed nothing.
	var latency time.Duration
	if sample.echoed > 0 {
		latency = now.Sub(time.UnixMilli(sample.echoed))
	} else {
		latency = now.Sub(hb.lastPingTime)
	}
	if latency < 0 {
		latency = 0
	}

	hb.hasPending = false
	hb.missedPongs = 0
	cb := hb.onLatency
	hb.mu.Unlock()

	if cb != nil {
		cb(latency)
	}
}
