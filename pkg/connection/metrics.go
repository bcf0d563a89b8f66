package connection

import (
	"sync"
	"time"
)

// Stats is a read-only snapshot of connection metrics.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	ReconnectCount   uint64
	FailedAttempts   uint64

	QueueDepth   int
	QueueDropped uint64

	LastLatency time.Duration
	AvgLatency  time.Duration

	// Transport is the adapter kind in use (websocket, sse, mux).
	Transport string

	// Mechanism is the active underlying carrier, which can differ from
	// Transport for adapters that auto-upgrade.
	Mechanism string

	// ConnectedSince is when the current connection became ready; zero
	// when not connected.
	ConnectedSince time.Time
}

// Uptime returns how long the current connection has been ready.
func (s Stats) Uptime() time.Duration {
	if s.ConnectedSince.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedSince)
}

// metrics accumulates counters. Updated only by the Manager and
// Heartbeat; read-only to consumers via snapshots.
type metrics struct {
	mu sync.Mutex

	sent          uint64
	received      uint64
	reconnects    uint64
	failed        uint64
	lastLatency   time.Duration
	latencySum    time.Duration
	latencyCount  uint64
	transportKind string
	connectedAt   time.Time
}

func (m *metrics) messageSent() {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
}

func (m *metrics) messageReceived() {
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
}

func (m *metrics) reconnectScheduled() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *metrics) attemptFailed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *metrics) observeLatency(d time.Duration) {
	m.mu.Lock()
	m.lastLatency = d
	m.latencySum += d
	m.latencyCount++
	m.mu.Unlock()
}

func (m *metrics) setTransport(kind string) {
	m.mu.Lock()
	m.transportKind = kind
	m.mu.Unlock()
}

func (m *metrics) connected() {
	m.mu.Lock()
	m.connectedAt = time.Now()
	m.mu.Unlock()
}

func (m *metrics) disconnected() {
	m.mu.Lock()
	m.connectedAt = time.Time{}
	m.mu.Unlock()
}

func (m *metrics) snapshot(queueDepth int, queueDropped uint64, mechanism string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg time.Duration
	if m.latencyCount > 0 {
		avg = m.latencySum / time.Duration(m.latencyCount)
	}
	return Stats{
		MessagesSent:     m.sent,
		MessagesReceived: m.received,
		ReconnectCount:   m.reconnects,
		FailedAttempts:   m.failed,
		QueueDepth:       queueDepth,
		QueueDropped:     queueDropped,
		LastLatency:      m.lastLatency,
		AvgLatency:       avg,
		Transport:        m.transportKind,
		Mechanism:        mechanism,
		ConnectedSince:   m.connectedAt,
	}
}
