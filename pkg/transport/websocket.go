package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeWriteTimeout bounds the close-frame write on teardown.
const closeWriteTimeout = 1 * time.Second

// WebSocket is an Adapter over a gorilla/websocket client connection.
// Frames are text frames carrying JSON envelopes.
type WebSocket struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler
	open    bool

	// detached suppresses all events after Close.
	detached atomic.Bool
	terminal sync.Once
}

// NewWebSocket creates a WebSocket adapter for the given ws:// or wss:// URL.
func NewWebSocket(url string) *WebSocket {
	return &WebSocket{
		url:    url,
		dialer: websocket.DefaultDialer,
	}
}

// SetHandler installs the event callbacks. Must be called before Open.
func (w *WebSocket) SetHandler(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

// Open dials the endpoint. On success the read loop starts and OnOpen has
// fired before Open returns.
func (w *WebSocket) Open(ctx context.Context) error {
	conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	if w.detached.Load() {
		// Closed while the dial was in flight; the fresh socket must
		// not outlive the adapter.
		w.mu.Unlock()
		conn.Close()
		return fmt.Errorf("websocket dial %s: adapter closed", w.url)
	}
	w.conn = conn
	w.open = true
	h := w.handler
	w.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	go w.readLoop(conn)
	return nil
}

// Send writes one text frame. Returns false if the channel is not open.
func (w *WebSocket) Send(data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || w.conn == nil {
		return false
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.open = false
		return false
	}
	return true
}

// Close sends a close frame, tears the connection down and detaches
// listeners synchronously. Idempotent.
func (w *WebSocket) Close(code int, reason string) {
	w.detached.Store(true)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return
	}
	if w.open {
		deadline := time.Now().Add(closeWriteTimeout)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	}
	_ = w.conn.Close()
	w.open = false
}

// Mechanism reports "websocket"; this adapter has a single carrier.
func (w *WebSocket) Mechanism() string { return KindWebSocket }

// Name returns the adapter kind.
func (w *WebSocket) Name() string { return KindWebSocket }

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.open = false
			h := w.handler
			w.mu.Unlock()

			if w.detached.Load() {
				return
			}
			w.terminal.Do(func() {
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

		if w.detached.Load() {
			return
		}
		w.mu.Lock()
		h := w.handler
		w.mu.Unlock()
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}
