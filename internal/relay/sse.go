package relay

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/parcelview/realtime-go/pkg/wire"
)

// handleSSE serves the event-stream half of the SSE transport. The client
// picks its stream id; the ingress endpoint addresses frames by it.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	streamID := r.URL.Query().Get("stream")
	if streamID == "" {
		streamID = uuid.NewString()
	}

	c := newClient(streamID)
	s.mu.Lock()
	if _, exists := s.sseClients[streamID]; exists {
		s.mu.Unlock()
		http.Error(w, "stream id in use", http.StatusConflict)
		return
	}
	s.sseClients[streamID] = c
	s.mu.Unlock()
	defer s.dropClient(c)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.log.Debug("sse client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case data := <-c.out:
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSSESend is the ingress half: one envelope per POST, addressed to
// a live stream.
func (s *Server) handleSSESend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	streamID := r.URL.Query().Get("stream")

	s.mu.Lock()
	c := s.sseClients[streamID]
	s.mu.Unlock()
	if c == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	env, err := wire.Decode(body)
	if err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	s.handleEnvelope(c, env)
	w.WriteHeader(http.StatusNoContent)
}
