package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parcelview/realtime-go/pkg/log"
	"github.com/parcelview/realtime-go/pkg/session"
	"github.com/parcelview/realtime-go/pkg/transport"
	"github.com/parcelview/realtime-go/pkg/wire"
)

// Manager errors.
var (
	ErrAlreadyConnected = errors.New("connection: already connected")
	ErrClosed           = errors.New("connection: manager closed")
)

// SendStatus is the outcome of a Send call. Sending while disconnected is
// not an error: the message is queued and replayed after reconnect.
type SendStatus uint8

const (
	// SendDelivered means the message was handed to the open transport.
	SendDelivered SendStatus = iota

	// SendQueued means the message was buffered for replay on reconnect.
	SendQueued
)

// String returns the send status name.
func (s SendStatus) String() string {
	switch s {
	case SendDelivered:
		return "DELIVERED"
	case SendQueued:
		return "QUEUED"
	default:
		return "UNKNOWN"
	}
}

// Status is the snapshot surface exposed to UI collaborators.
type Status struct {
	State   State
	Stats   Stats
	Session *session.Context
}

// MessageHandler receives dispatched envelopes.
type MessageHandler func(env *wire.Envelope)

// StatusHandler receives status snapshots on every state transition.
type StatusHandler func(status Status)

// Manager orchestrates one active transport adapter: it drives the
// reconnection state machine with backoff, owns the outbound queue and
// heartbeat, re-runs the session handshake on every reconnect, and exposes
// status and metrics to callers.
//
// All operations are non-blocking; outcomes are delivered via status and
// message callbacks. At most one adapter is live at any time, and at most
// one reconnect timer is pending.
type Manager struct {
	cfg  Config
	id   string
	auth *session.Authenticator

	mu         sync.Mutex
	state      State
	adapter    transport.Adapter
	generation uint64
	closed     bool

	// Reconnection bookkeeping. attempts counts consecutive failures of
	// the current transport; transportIdx walks the preference order.
	attempts       int
	transportIdx   int
	backoff        *Backoff
	reconnectTimer *time.Timer

	queue   *Queue
	hb      *Heartbeat
	metrics *metrics
	sess    *session.Context

	// Subscriptions. Guarded by subsMu, not mu, so dispatch never blocks
	// state transitions.
	subsMu     sync.Mutex
	subs       map[string]map[int]MessageHandler
	statusSubs map[int]StatusHandler
	nextSubID  int

	// Status notifications are queued and drained by a single goroutine
	// so handlers observe transitions in order without holding mu.
	notifyMu      sync.Mutex
	notifyPending []Status
	notifying     bool
	notifyDone    chan struct{}
}

// NewManager creates a Manager from cfg. The manager starts Disconnected;
// call Connect to begin.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()

	backoff := NewBackoffWithConfig(cfg.Backoff)
	if cfg.Rand != nil {
		backoff.SetRand(cfg.Rand)
	}

	m := &Manager{
		cfg:        cfg,
		id:         uuid.NewString(),
		auth:       session.NewAuthenticator(cfg.HandshakeTimeout),
		state:      StateDisconnected,
		backoff:    backoff,
		queue:      NewQueue(cfg.MaxQueueLength),
		metrics:    &metrics{},
		subs:       make(map[string]map[int]MessageHandler),
		statusSubs: make(map[int]StatusHandler),
		notifyDone: make(chan struct{}),
	}
	close(m.notifyDone) // no drain goroutine running yet
	return m, nil
}

// ID returns the manager's connection identifier.
func (m *Manager) ID() string { return m.id }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true when the connection is ready.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Status returns the full status snapshot: state, stats, session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	mechanism := ""
	if m.adapter != nil {
		mechanism = m.adapter.Mechanism()
	}
	st := Status{
		State: m.state,
		Stats: m.metrics.snapshot(m.queue.Len(), m.queue.Dropped(), mechanism),
	}
	if m.sess != nil {
		sc := *m.sess
		st.Session = &sc
	}
	return st
}

// SetSession stores the session context submitted on every (re)connect
// handshake. Set it before Connect; it is re-submitted verbatim on every
// reconnect so callers never re-join manually.
func (m *Manager) SetSession(sc session.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = &sc
}

// ClearSession removes the stored session context.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
}

// Connect initiates a connection. Non-blocking: the outcome arrives via
// status callbacks. Calling Connect while already connected or connecting
// returns ErrAlreadyConnected.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	switch m.state {
	case StateDisconnected, StateFailed:
	default:
		return ErrAlreadyConnected
	}

	m.attempts = 0
	m.transportIdx = 0
	m.backoff.Reset()
	m.startConnectLocked()
	return nil
}

// Reconnect resets the attempt counter and re-enters Connecting. It is
// the explicit escape from the terminal Failed state.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state == StateConnected || m.state == StateConnecting || m.state == StateAuthenticating {
		return ErrAlreadyConnected
	}

	m.cancelTimerLocked()
	m.attempts = 0
	m.transportIdx = 0
	m.backoff.Reset()
	m.startConnectLocked()
	return nil
}

// Send hands a raw frame to the open transport, or queues it while
// disconnected. Never fails for transient disconnection.
func (m *Manager) Send(data []byte) SendStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected && m.adapter != nil && m.adapter.Send(data) {
		m.metrics.messageSent()
		return SendDelivered
	}
	m.queue.Push(data, "")
	return SendQueued
}

// SendEnvelope encodes and sends an envelope.
func (m *Manager) SendEnvelope(env *wire.Envelope) (SendStatus, error) {
	data, err := wire.Encode(env)
	if err != nil {
		return SendQueued, err
	}
	return m.Send(data), nil
}

// Disconnect cancels all timers, best-effort announces a session leave,
// closes the adapter cleanly and transitions to Disconnected. Listeners of
// the superseded adapter are detached synchronously: no event from it can
// be observed after Disconnect returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.cancelTimerLocked()
	m.stopHeartbeatLocked()
	m.auth.Abort()

	if m.adapter != nil {
		if m.sess != nil && m.state == StateConnected {
			// Best-effort leave before closing.
			if data, err := wire.Encode(m.sess.LeaveEnvelope()); err == nil {
				m.adapter.Send(data)
				m.captureControl(log.DirectionOut, log.ControlLeave, 0)
			}
		}
		m.teardownAdapterLocked(transport.CloseNormal, "client disconnect")
	}
	m.metrics.disconnected()
	m.setStateLocked(StateDisconnected, "disconnect requested")
}

// Close disconnects and permanently shuts the manager down.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.disconnectLocked()
	m.closed = true
	m.mu.Unlock()

	// Wait for in-flight status notifications so no handler runs after
	// Close returns.
	m.notifyMu.Lock()
	done := m.notifyDone
	m.notifyMu.Unlock()
	<-done
}

// On registers a handler for a specific envelope type (or wire.Wildcard
// for all). It returns an unsubscribe func.
func (m *Manager) On(msgType string, h MessageHandler) func() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if m.subs[msgType] == nil {
		m.subs[msgType] = make(map[int]MessageHandler)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[msgType][id] = h

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs[msgType], id)
	}
}

// OnAny registers a wildcard handler receiving every dispatched envelope.
func (m *Manager) OnAny(h MessageHandler) func() {
	return m.On(wire.Wildcard, h)
}

// OnStatusChange registers a status handler. It is called once immediately
// with the current status, then on every transition, in order.
func (m *Manager) OnStatusChange(h StatusHandler) func() {
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.statusSubs[id] = h
	m.subsMu.Unlock()

	m.mu.Lock()
	st := m.statusLocked()
	m.mu.Unlock()
	safeCallStatus(h, st)

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.statusSubs, id)
	}
}

// ---- connection lifecycle ----

// startConnectLocked tears down any previous adapter and dials the
// current transport. Caller holds mu.
func (m *Manager) startConnectLocked() {
	if m.adapter != nil {
		m.teardownAdapterLocked(transport.CloseAbnormal, "superseded")
	}

	kind := m.cfg.Transports[m.transportIdx]
	adapter, err := m.cfg.NewAdapter(kind, m.cfg.Endpoint)
	if err != nil {
		m.cfg.Logger.Error("transport construction failed", "kind", kind, "err", err)
		m.setStateLocked(StateConnecting, "dialing "+kind)
		m.connectionFailedLocked(fmt.Errorf("new adapter: %w", err))
		return
	}

	m.generation++
	gen := m.generation
	adapter.SetHandler(transport.Handler{
		OnOpen:    func() { m.onAdapterOpen(gen) },
		OnMessage: func(data []byte) { m.onAdapterMessage(gen, data) },
		OnClose:   func(code int, reason string) { m.onAdapterTerminal(gen, fmt.Errorf("transport closed: %d %s", code, reason)) },
		OnError:   func(err error) { m.onAdapterTerminal(gen, err) },
	})
	m.adapter = adapter
	m.metrics.setTransport(kind)
	m.setStateLocked(StateConnecting, "dialing "+kind)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		defer cancel()
		if err := adapter.Open(ctx); err != nil {
			m.onDialError(gen, err)
		}
	}()
}

// teardownAdapterLocked detaches and closes the current adapter. Bumping
// the generation makes any in-flight callback from it a no-op, so at most
// one adapter's listeners are ever live.
func (m *Manager) teardownAdapterLocked(code int, reason string) {
	if m.adapter == nil {
		return
	}
	m.generation++
	adapter := m.adapter
	m.adapter = nil
	adapter.Close(code, reason)
}

func (m *Manager) onDialError(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation {
		return
	}
	m.captureError(log.LayerTransport, err, "dial")
	m.teardownAdapterLocked(transport.CloseAbnormal, "dial failed")
	m.connectionFailedLocked(err)
}

func (m *Manager) onAdapterOpen(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}

	if m.sess != nil {
		m.setStateLocked(StateAuthenticating, "transport open, joining session")
		sc := *m.sess
		adapter := m.adapter
		m.mu.Unlock()

		go m.runHandshake(gen, sc, adapter)
		return
	}

	m.enterConnectedLocked()
	m.mu.Unlock()
}

// runHandshake drives the session join and applies its outcome.
func (m *Manager) runHandshake(gen uint64, sc session.Context, adapter transport.Adapter) {
	m.captureControl(log.DirectionOut, log.ControlJoin, 0)

	err := m.auth.Handshake(context.Background(), sc, adapter.Send)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation || m.state != StateAuthenticating {
		// The transport dropped or was superseded while we waited; the
		// terminal-event path owns the outcome.
		return
	}

	if err != nil {
		if errors.Is(err, session.ErrHandshakeAborted) {
			return
		}
		// Authentication failure is terminal: retrying rejected
		// credentials is pointless and potentially abusive.
		m.cfg.Logger.Warn("session handshake failed", "conn_id", m.id, "err", err)
		m.captureError(log.LayerSession, err, "handshake")
		m.teardownAdapterLocked(transport.CloseNormal, "auth failed")
		m.metrics.disconnected()
		m.setStateLocked(StateFailed, "authentication failed")
		return
	}

	m.enterConnectedLocked()
}

// enterConnectedLocked performs the Connected entry actions: reset the
// attempt budget and backoff, start the heartbeat, and flush the queue in
// FIFO order ahead of any newly sent traffic (mu is held throughout, so
// Send cannot interleave).
func (m *Manager) enterConnectedLocked() {
	m.attempts = 0
	m.backoff.Reset()
	m.metrics.connected()
	m.setStateLocked(StateConnected, "ready")

	m.startHeartbeatLocked()
	m.flushQueueLocked()
}

func (m *Manager) flushQueueLocked() {
	pending := m.queue.Drain()
	for i, pm := range pending {
		if m.adapter == nil || !m.adapter.Send(pm.Data) {
			m.queue.Requeue(pending[i:])
			return
		}
		m.metrics.messageSent()
	}
}

func (m *Manager) startHeartbeatLocked() {
	gen := m.generation
	hb := NewHeartbeat(m.cfg.Heartbeat,
		func(seq uint64) bool { return m.sendPing(gen, seq) },
		func() { m.onHeartbeatTimeout(gen) },
	)
	hb.SetLatencyCallback(func(latency time.Duration) {
		m.metrics.observeLatency(latency)
	})
	m.hb = hb
	hb.Start()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.hb != nil {
		m.hb.Stop()
		m.hb = nil
	}
}

func (m *Manager) sendPing(gen uint64, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation || m.state != StateConnected || m.adapter == nil {
		return false
	}
	ok := m.adapter.Send(wire.MustEncode(wire.NewPing(seq)))
	if ok {
		m.captureControl(log.DirectionOut, log.ControlPing, seq)
	}
	return ok
}

// onHeartbeatTimeout forces a reconnect when consecutive pongs were
// missed, even though the transport itself has not reported closure.
func (m *Manager) onHeartbeatTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation || m.state != StateConnected {
		return
	}

	err := errors.New("heartbeat: missed pong limit reached")
	m.cfg.Logger.Warn("connection presumed dead", "conn_id", m.id, "err", err)
	m.captureError(log.LayerTransport, err, "heartbeat")

	m.stopHeartbeatLocked()
	m.teardownAdapterLocked(transport.CloseAbnormal, "heartbeat timeout")
	m.metrics.disconnected()
	m.connectionFailedLocked(err)
}

func (m *Manager) onAdapterTerminal(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation {
		return
	}

	m.captureError(log.LayerTransport, err, "terminal")
	m.auth.Abort()
	m.stopHeartbeatLocked()
	m.teardownAdapterLocked(transport.CloseAbnormal, "terminal event")
	m.metrics.disconnected()
	m.connectionFailedLocked(err)
}

// connectionFailedLocked is the shared failure path: account the attempt,
// then reconnect with backoff, fall back to the next transport, or fail.
func (m *Manager) connectionFailedLocked(err error) {
	m.attempts++
	m.metrics.attemptFailed()

	if !m.cfg.AutoReconnect {
		m.setStateLocked(StateFailed, "auto-reconnect disabled")
		return
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		// This transport's budget is exhausted; fall back.
		if m.transportIdx+1 < len(m.cfg.Transports) {
			m.transportIdx++
			m.attempts = 0
			m.backoff.Reset()
			m.cfg.Logger.Info("falling back to next transport",
				"conn_id", m.id, "kind", m.cfg.Transports[m.transportIdx])
		} else {
			m.cfg.Logger.Warn("retries exhausted on all transports", "conn_id", m.id, "err", err)
			m.setStateLocked(StateFailed, "retries exhausted")
			return
		}
	}

	delay := m.backoff.Next()
	m.metrics.reconnectScheduled()
	m.setStateLocked(StateReconnecting, fmt.Sprintf("retry in %s", delay.Round(time.Millisecond)))
	m.scheduleReconnectLocked(delay)
}

// scheduleReconnectLocked arms the single reconnect timer, cancelling any
// previous one: never more than one pending reconnect timer.
func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	m.cancelTimerLocked()
	m.reconnectTimer = time.AfterFunc(delay, m.onReconnectTimer)
}

func (m *Manager) cancelTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) onReconnectTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	m.startConnectLocked()
}

// ---- inbound dispatch ----

func (m *Manager) onAdapterMessage(gen uint64, data []byte) {
	env, err := wire.Decode(data)

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.captureError(log.LayerEnvelope, err, "decode")
		m.mu.Unlock()
		return
	}
	m.metrics.messageReceived()

	switch env.Type {
	case wire.TypePong:
		if m.hb != nil {
			m.hb.PongReceived(env.Seq, env.Timestamp)
		}
		m.captureControl(log.DirectionIn, log.ControlPong, env.Seq)
		m.mu.Unlock()
		return

	case wire.TypePing:
		// Server-initiated liveness probe: echo it back.
		if m.adapter != nil {
			m.adapter.Send(wire.MustEncode(wire.NewPong(env)))
		}
		m.mu.Unlock()
		return
	}

	if m.state == StateAuthenticating {
		m.mu.Unlock()
		if m.auth.Deliver(env) {
			return
		}
		m.dispatch(env)
		return
	}
	m.mu.Unlock()

	m.dispatch(env)
}

// dispatch fans an envelope out to typed and wildcard subscribers. Each
// handler runs under its own recover so one failing subscriber cannot
// break dispatch to others.
func (m *Manager) dispatch(env *wire.Envelope) {
	m.captureEnvelope(env)

	m.subsMu.Lock()
	handlers := make([]MessageHandler, 0, 4)
	for _, h := range m.subs[env.Type] {
		handlers = append(handlers, h)
	}
	if env.Type != wire.Wildcard {
		for _, h := range m.subs[wire.Wildcard] {
			handlers = append(handlers, h)
		}
	}
	m.subsMu.Unlock()

	for _, h := range handlers {
		m.safeCallMessage(h, env)
	}
}

func (m *Manager) safeCallMessage(h MessageHandler, env *wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Error("message handler panicked", "conn_id", m.id, "type", env.Type, "panic", r)
		}
	}()
	h(env)
}

func safeCallStatus(h StatusHandler, st Status) {
	defer func() {
		_ = recover()
	}()
	h(st)
}

// ---- state + notification plumbing ----

func (m *Manager) setStateLocked(newState State, reason string) {
	if m.state == newState {
		return
	}
	oldState := m.state
	m.state = newState

	m.cfg.Logger.Debug("connection state change",
		"conn_id", m.id, "from", oldState.String(), "to", newState.String(), "reason", reason)
	m.cfg.Capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerEnvelope,
		Category:     log.CategoryState,
		Transport:    m.currentTransportLocked(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})

	m.enqueueNotifyLocked(m.statusLocked())
}

func (m *Manager) currentTransportLocked() string {
	if m.transportIdx < len(m.cfg.Transports) {
		return m.cfg.Transports[m.transportIdx]
	}
	return ""
}

// enqueueNotifyLocked queues a status snapshot and ensures a single drain
// goroutine delivers snapshots to subscribers in order.
func (m *Manager) enqueueNotifyLocked(st Status) {
	m.notifyMu.Lock()
	m.notifyPending = append(m.notifyPending, st)
	if !m.notifying {
		m.notifying = true
		m.notifyDone = make(chan struct{})
		go m.drainNotifies()
	}
	m.notifyMu.Unlock()
}

func (m *Manager) drainNotifies() {
	for {
		m.notifyMu.Lock()
		if len(m.notifyPending) == 0 {
			m.notifying = false
			close(m.notifyDone)
			m.notifyMu.Unlock()
			return
		}
		st := m.notifyPending[0]
		m.notifyPending = m.notifyPending[1:]
		m.notifyMu.Unlock()

		m.subsMu.Lock()
		handlers := make([]StatusHandler, 0, len(m.statusSubs))
		for _, h := range m.statusSubs {
			handlers = append(handlers, h)
		}
		m.subsMu.Unlock()

		for _, h := range handlers {
			safeCallStatus(h, st)
		}
	}
}

// ---- capture helpers ----

func (m *Manager) captureControl(dir log.Direction, typ log.ControlType, seq uint64) {
	m.cfg.Capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.id,
		Direction:    dir,
		Layer:        log.LayerEnvelope,
		Category:     log.CategoryControl,
		Control:      &log.ControlEvent{Type: typ, Seq: seq},
	})
}

func (m *Manager) captureEnvelope(env *wire.Envelope) {
	m.cfg.Capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerEnvelope,
		Category:     log.CategoryMessage,
		SessionID:    env.SessionID,
		Envelope: &log.EnvelopeEvent{
			Type:        env.Type,
			Seq:         env.Seq,
			SessionID:   env.SessionID,
			PayloadSize: len(env.Payload),
		},
	})
}

func (m *Manager) captureError(layer log.Layer, err error, context string) {
	m.cfg.Capture.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.id,
		Direction:    log.DirectionIn,
		Layer:        layer,
		Category:     log.CategoryError,
		Error:        &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: context},
	})
}
