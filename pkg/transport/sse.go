package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SSE is an Adapter over a Server-Sent-Events stream. SSE is server-push
// only, so Send POSTs to the companion ingress endpoint (<url>/send) with
// the same stream ID the server assigned the GET.
type SSE struct {
	url      string
	client   *http.Client
	streamID string

	mu      sync.Mutex
	handler Handler
	open    bool
	cancel  context.CancelFunc

	detached atomic.Bool
	terminal sync.Once
}

// NewSSE creates an SSE adapter for the given http:// or https:// stream URL.
// A nil client uses a default http.Client.
func NewSSE(url string, client *http.Client) *SSE {
	if client == nil {
		client = &http.Client{}
	}
	return &SSE{
		url:      url,
		client:   client,
		streamID: uuid.NewString(),
	}
}

// SetHandler installs the event callbacks. Must be called before Open.
func (s *SSE) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Open issues the streaming GET. The context bounds the dial; the stream
// itself lives until Close or a server-side end.
func (s *SSE) Open(ctx context.Context) error {
	// The stream request outlives the dial context.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.url+"?stream="+s.streamID, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("sse request %s: %w", s.url, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	type dialResult struct {
		resp *http.Response
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		resp, err := s.client.Do(req)
		resultCh <- dialResult{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		// Reap the in-flight response once Do returns.
		go func() {
			if r := <-resultCh; r.resp != nil {
				r.resp.Body.Close()
			}
		}()
		return fmt.Errorf("sse dial %s: %w", s.url, ctx.Err())
	case r := <-resultCh:
		if r.err != nil {
			cancel()
			return fmt.Errorf("sse dial %s: %w", s.url, r.err)
		}
		resp = r.resp
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("sse dial %s: unexpected status %d", s.url, resp.StatusCode)
	}

	s.mu.Lock()
	if s.detached.Load() {
		// Closed while the stream request was in flight.
		s.mu.Unlock()
		cancel()
		resp.Body.Close()
		return fmt.Errorf("sse dial %s: adapter closed", s.url)
	}
	s.open = true
	s.cancel = cancel
	h := s.handler
	s.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	go s.readLoop(resp.Body)
	return nil
}

// Send POSTs one frame to the ingress endpoint. Returns false if the
// stream is not open or the POST failed.
func (s *SSE) Send(data []byte) bool {
	s.mu.Lock()
	open := s.open
	s.mu.Unlock()
	if !open {
		return false
	}

	resp, err := s.client.Post(s.url+"/send?stream="+s.streamID, "application/json", bytes.NewReader(data))
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < 300
}

// Close cancels the stream request and detaches listeners synchronously.
// Idempotent.
func (s *SSE) Close(code int, reason string) {
	s.detached.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	if s.cancel != nil {
		s.cancel()
	}
}

// Mechanism reports "sse"; this adapter has a single carrier.
func (s *SSE) Mechanism() string { return KindSSE }

// Name returns the adapter kind.
func (s *SSE) Name() string { return KindSSE }

// readLoop parses the event-stream framing: "data:" lines accumulate until
// a blank line dispatches the joined payload. "event:" and comment lines
// are ignored; the type discriminator lives inside the envelope.
func (s *SSE) readLoop(body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				payload := strings.Join(data, "\n")
				data = data[:0]
				if s.detached.Load() {
					return
				}
				s.mu.Lock()
				h := s.handler
				s.mu.Unlock()
				if h.OnMessage != nil {
					h.OnMessage([]byte(payload))
				}
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// "event:", "id:", "retry:" and comments are skipped.
	}

	err := scanner.Err()

	s.mu.Lock()
	s.open = false
	h := s.handler
	s.mu.Unlock()

	if s.detached.Load() {
		return
	}
	s.terminal.Do(func() {
		if err != nil {
			if h.OnError != nil {
				h.OnError(fmt.Errorf("sse stream: %w", err))
			}
			return
		}
		if h.OnClose != nil {
			h.OnClose(CloseNormal, "stream ended")
		}
	})
}
