package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// sseTestServer streams queued frames to each GET and records POSTs to the
// ingress endpoint.
type sseTestServer struct {
	mu       sync.Mutex
	streams  map[string]chan []byte
	received [][]byte
}

func newSSETestServer() *sseTestServer {
	return &sseTestServer{streams: make(map[string]chan []byte)}
}

func (s *sseTestServer) push(streamID string, frame []byte) {
	s.mu.Lock()
	ch := s.streams[streamID]
	s.mu.Unlock()
	if ch != nil {
		ch <- frame
	}
}

func (s *sseTestServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("stream")
		ch := make(chan []byte, 16)
		s.mu.Lock()
		s.streams[id] = ch
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", frame)
				w.(http.Flusher).Flush()
			}
		}
	})
	mux.HandleFunc("/stream/send", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		s.mu.Lock()
		s.received = append(s.received, buf)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestSSEReceive(t *testing.T) {
	backend := newSSETestServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	var c collector
	a := NewSSE(srv.URL+"/stream", nil)
	a.SetHandler(c.handler())

	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close(CloseNormal, "")

	if c.opens != 1 {
		t.Errorf("opens = %d, want 1", c.opens)
	}
	if a.Mechanism() != "sse" {
		t.Errorf("Mechanism() = %q", a.Mechanism())
	}

	backend.push(a.streamID, []byte(`{"type":"update"}`))
	backend.push(a.streamID, []byte(`{"type":"update2"}`))

	waitFor(t, time.Second, func() bool { return c.messageCount() == 2 })

	c.mu.Lock()
	defer c.mu.Unlock()
	if string(c.messages[0]) != `{"type":"update"}` {
		t.Errorf("first message = %s", c.messages[0])
	}
}

func TestSSESendViaIngress(t *testing.T) {
	backend := newSSETestServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	a := NewSSE(srv.URL+"/stream", nil)
	a.SetHandler(Handler{})
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close(CloseNormal, "")

	if !a.Send([]byte(`{"type":"hello"}`)) {
		t.Fatal("Send() = false")
	}

	waitFor(t, time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.received) == 1
	})

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if string(backend.received[0]) != `{"type":"hello"}` {
		t.Errorf("ingress received %s", backend.received[0])
	}
}

func TestSSEDialFailure(t *testing.T) {
	t.Run("ConnectionRefused", func(t *testing.T) {
		a := NewSSE("http://127.0.0.1:1/stream", nil)
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := a.Open(ctx); err == nil {
			t.Fatal("Open() succeeded against closed port")
		}
	})

	t.Run("BadStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		a := NewSSE(srv.URL, nil)
		if err := a.Open(context.Background()); err == nil {
			t.Fatal("Open() accepted a 503 response")
		}
	})
}

func TestSSESendBeforeOpen(t *testing.T) {
	a := NewSSE("http://127.0.0.1:1/stream", nil)
	if a.Send([]byte("x")) {
		t.Error("Send() = true before Open, want false")
	}
}

func TestSSECloseBeforeDialCompletesCancelsStream(t *testing.T) {
	streamGone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(streamGone)
	}))
	defer srv.Close()

	var c collector
	a := NewSSE(srv.URL, nil)
	a.SetHandler(c.handler())

	// Close wins the race against the stream request: the response it
	// yields afterwards must be cancelled, not left streaming.
	a.Close(CloseNormal, "superseded")
	if err := a.Open(context.Background()); err == nil {
		t.Fatal("Open() succeeded on a closed adapter")
	}

	select {
	case <-streamGone:
	case <-time.After(time.Second):
		t.Fatal("stream request lingered after Close")
	}
	if c.opens != 0 || c.terminalCount() != 0 {
		t.Errorf("closed adapter delivered events: opens=%d terminals=%d", c.opens, c.terminalCount())
	}
}

func TestSSEServerEndedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "data: {\"type\":\"bye\"}\n\n")
		// Handler returns: the stream ends cleanly.
	}))
	defer srv.Close()

	var c collector
	a := NewSSE(srv.URL, nil)
	a.SetHandler(c.handler())
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return c.terminalCount() == 1 })

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closes) != 1 || c.closes[0] != CloseNormal {
		t.Errorf("closes = %v, want one CloseNormal", c.closes)
	}
	if len(c.messages) != 1 {
		t.Errorf("messages = %d, want 1 before the stream ended", len(c.messages))
	}
}
