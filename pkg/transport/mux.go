package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// muxHandshake is the server's answer to the handshake request.
type muxHandshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval,omitempty"`
}

// Mux is a multiplexed Adapter in the Socket.IO style: an HTTP handshake
// issues a session id, delivery starts on long-polling, and the adapter
// probes a WebSocket upgrade carrying the same sid. On upgrade success the
// socket takes over and Mechanism flips "polling" to "websocket"; on
// failure polling simply continues. Either way it is one logical
// connection with one terminal event.
type Mux struct {
	url    string
	client *http.Client
	dialer *websocket.Dialer

	mu         sync.Mutex
	handler    Handler
	sid        string
	open       bool
	mechanism  string
	ws         *websocket.Conn
	pollCancel context.CancelFunc
	upgraded   bool

	detached atomic.Bool
	terminal sync.Once
}

// NewMux creates a mux adapter for the given http:// or https:// base URL.
// A nil client uses a default http.Client.
func NewMux(url string, client *http.Client) *Mux {
	if client == nil {
		client = &http.Client{}
	}
	return &Mux{
		url:       url,
		client:    client,
		dialer:    websocket.DefaultDialer,
		mechanism: "polling",
	}
}

// SetHandler installs the event callbacks. Must be called before Open.
func (m *Mux) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Open performs the handshake, starts polling, and probes the websocket
// upgrade in the background.
func (m *Mux) Open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url+"/handshake", nil)
	if err != nil {
		return fmt.Errorf("mux handshake %s: %w", m.url, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mux handshake %s: %w", m.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mux handshake %s: unexpected status %d", m.url, resp.StatusCode)
	}

	var hs muxHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return fmt.Errorf("mux handshake %s: %w", m.url, err)
	}
	if hs.SID == "" {
		return fmt.Errorf("mux handshake %s: missing sid", m.url)
	}

	pollCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.detached.Load() {
		// Closed while the handshake was in flight.
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("mux handshake %s: adapter closed", m.url)
	}
	m.sid = hs.SID
	m.open = true
	m.mechanism = "polling"
	m.pollCancel = cancel
	h := m.handler
	m.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	go m.pollLoop(pollCtx)

	for _, up := range hs.Upgrades {
		if up == KindWebSocket {
			go m.tryUpgrade()
			break
		}
	}
	return nil
}

// Send writes one frame over the active carrier.
func (m *Mux) Send(data []byte) bool {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return false
	}
	ws := m.ws
	sid := m.sid
	if ws != nil {
		err := ws.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			m.open = false
		}
		m.mu.Unlock()
		return err == nil
	}
	m.mu.Unlock()

	resp, err := m.client.Post(m.url+"/send?sid="+sid, "application/json", bytes.NewReader(data))
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < 300
}

// Close stops polling, closes any upgraded socket, and detaches listeners
// synchronously. Idempotent.
func (m *Mux) Close(code int, reason string) {
	m.detached.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	if m.pollCancel != nil {
		m.pollCancel()
	}
	if m.ws != nil {
		deadline := time.Now().Add(closeWriteTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = m.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = m.ws.Close()
		m.ws = nil
	}
}

// Mechanism reports the active carrier: "polling" until a successful
// upgrade, "websocket" after.
func (m *Mux) Mechanism() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mechanism
}

// Name returns the adapter kind.
func (m *Mux) Name() string { return KindMux }

// pollLoop long-polls the server for batches of frames until the adapter
// closes, fails, or upgrades.
func (m *Mux) pollLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		sid := m.sid
		open := m.open
		m.mu.Unlock()
		if !open {
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url+"/poll?sid="+sid, nil)
		if err != nil {
			m.pollFailed(err)
			return
		}
		resp, err := m.client.Do(req)
		if err != nil {
			if m.detached.Load() || m.isUpgraded() || ctx.Err() != nil {
				return
			}
			m.pollFailed(err)
			return
		}

		if resp.StatusCode == http.StatusNoContent {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			if m.detached.Load() || m.isUpgraded() {
				return
			}
			m.pollFailed(fmt.Errorf("poll status %d", resp.StatusCode))
			return
		}

		var frames []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&frames)
		resp.Body.Close()
		if err != nil {
			if m.detached.Load() || m.isUpgraded() {
				return
			}
			m.pollFailed(err)
			return
		}

		m.mu.Lock()
		h := m.handler
		m.mu.Unlock()
		for _, frame := range frames {
			if m.detached.Load() {
				return
			}
			if h.OnMessage != nil {
				h.OnMessage(frame)
			}
		}
	}
}

func (m *Mux) isUpgraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upgraded
}

// pollFailed marks the adapter dead and delivers the terminal error.
func (m *Mux) pollFailed(err error) {
	m.mu.Lock()
	m.open = false
	h := m.handler
	m.mu.Unlock()

	if m.detached.Load() {
		return
	}
	m.terminal.Do(func() {
		if h.OnError != nil {
			h.OnError(fmt.Errorf("mux poll: %w", err))
		}
	})
}

// tryUpgrade probes a websocket carrying the handshake sid. Failure is
// silent: polling keeps the connection alive.
func (m *Mux) tryUpgrade() {
	m.mu.Lock()
	sid := m.sid
	open := m.open
	m.mu.Unlock()
	if !open || m.detached.Load() {
		return
	}

	wsBase, err := DeriveURL(m.url, KindWebSocket)
	if err != nil {
		return
	}
	conn, resp, err := m.dialer.Dial(wsBase+"/ws?sid="+sid, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return
	}

	m.mu.Lock()
	if !m.open || m.detached.Load() {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.ws = conn
	m.upgraded = true
	m.mechanism = KindWebSocket
	if m.pollCancel != nil {
		m.pollCancel()
	}
	m.mu.Unlock()

	go m.wsReadLoop(conn)
}

func (m *Mux) wsReadLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			m.open = false
			h := m.handler
			m.mu.Unlock()

			if m.detached.Load() {
				return
			}
			m.terminal.Do(func() {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					if h.OnClose != nil {
						h.OnClose(ce.Code, ce.Text)
					}
					return
				}
				if h.OnError != nil {
					h.OnError(err)
				}
			})
			return
		}

		if m.detached.Load() {
			return
		}
		m.mu.Lock()
		h := m.handler
		m.mu.Unlock()
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}
