package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// echoServer upgrades and echoes every text frame back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// collector records adapter events for assertions.
type collector struct {
	mu       sync.Mutex
	opens    int
	messages [][]byte
	closes   []int
	errors   []error
}

func (c *collector) handler() Handler {
	return Handler{
		OnOpen: func() {
			c.mu.Lock()
			c.opens++
			c.mu.Unlock()
		},
		OnMessage: func(data []byte) {
			c.mu.Lock()
			c.messages = append(c.messages, data)
			c.mu.Unlock()
		},
		OnClose: func(code int, reason string) {
			c.mu.Lock()
			c.closes = append(c.closes, code)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errors = append(c.errors, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *collector) terminalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closes) + len(c.errors)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestWebSocketEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var c collector
	a := NewWebSocket(wsURL(srv))
	a.SetHandler(c.handler())

	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close(CloseNormal, "")

	if c.opens != 1 {
		t.Errorf("opens = %d, want 1 (fired before Open returned)", c.opens)
	}
	if a.Mechanism() != "websocket" {
		t.Errorf("Mechanism() = %q", a.Mechanism())
	}

	if !a.Send([]byte(`{"type":"hello"}`)) {
		t.Fatal("Send() = false on open channel")
	}

	waitFor(t, time.Second, func() bool { return c.messageCount() == 1 })

	c.mu.Lock()
	got := string(c.messages[0])
	c.mu.Unlock()
	if got != `{"type":"hello"}` {
		t.Errorf("echoed message = %s", got)
	}
}

func TestWebSocketSendBeforeOpen(t *testing.T) {
	a := NewWebSocket("ws://127.0.0.1:1/never")
	if a.Send([]byte("x")) {
		t.Error("Send() = true before Open, want false (fail fast, no queuing)")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	var c collector
	a := NewWebSocket("ws://127.0.0.1:1/never")
	a.SetHandler(c.handler())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := a.Open(ctx); err == nil {
		t.Fatal("Open() succeeded against closed port")
	}
	// Dial failure surfaces only via the error return: no events.
	if c.opens != 0 || c.terminalCount() != 0 {
		t.Errorf("dial failure delivered events: opens=%d terminals=%d", c.opens, c.terminalCount())
	}
}

func TestWebSocketServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	var c collector
	a := NewWebSocket(wsURL(srv))
	a.SetHandler(c.handler())
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return c.terminalCount() == 1 })

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) != 1 || c.closes[0] != websocket.CloseGoingAway {
		t.Errorf("closes = %v, want one CloseGoingAway", c.closes)
	}
	if len(c.errors) != 0 {
		t.Errorf("errors = %v, want none (exactly one terminal event)", c.errors)
	}
}

func TestWebSocketCloseBeforeDialCompletesDropsSocket(t *testing.T) {
	serverGone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Returns once the client side tears the socket down.
		conn.ReadMessage()
		conn.Close()
		close(serverGone)
	}))
	defer srv.Close()

	var c collector
	a := NewWebSocket(wsURL(srv))
	a.SetHandler(c.handler())

	// Close wins the race against the dial: the connection the dial
	// establishes afterwards must not linger.
	a.Close(CloseNormal, "superseded")
	if err := a.Open(context.Background()); err == nil {
		t.Fatal("Open() succeeded on a closed adapter")
	}

	select {
	case <-serverGone:
	case <-time.After(time.Second):
		t.Fatal("server-side connection lingered after Close")
	}
	if c.opens != 0 || c.terminalCount() != 0 {
		t.Errorf("closed adapter delivered events: opens=%d terminals=%d", c.opens, c.terminalCount())
	}
	if a.Send([]byte("x")) {
		t.Error("Send() = true on closed adapter")
	}
}

func TestWebSocketCloseSuppressesEvents(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	var c collector
	a := NewWebSocket(wsURL(srv))
	a.SetHandler(c.handler())
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	a.Close(CloseNormal, "done")

	// The read loop observes the closed connection shortly after; no
	// terminal event may be delivered for a deliberate Close.
	time.Sleep(100 * time.Millisecond)
	if c.terminalCount() != 0 {
		t.Errorf("terminal events after Close = %d, want 0", c.terminalCount())
	}

	if a.Send([]byte("x")) {
		t.Error("Send() = true after Close")
	}

	// Idempotent.
	a.Close(CloseNormal, "again")
}
