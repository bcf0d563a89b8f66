package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/parcelview/realtime-go/pkg/wire"
)

// muxClient is a mux peer: long-polling until (and unless) it upgrades to
// a websocket carrying the same sid.
type muxClient struct {
	*client
	upgraded chan struct{} // closed on websocket takeover
}

type muxHandshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval,omitempty"`
}

// handleMuxHandshake issues a session id and advertises the upgrade path.
func (s *Server) handleMuxHandshake(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	mc := &muxClient{
		client:   newClient(uuid.NewString()),
		upgraded: make(chan struct{}),
	}

	s.mu.Lock()
	s.muxClients[mc.id] = mc
	s.mu.Unlock()

	s.log.Debug("mux client connected", "conn_id", mc.id, "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(muxHandshake{
		SID:          mc.id,
		Upgrades:     []string{"websocket"},
		PingInterval: s.cfg.PingInterval.Milliseconds(),
	})
}

func (s *Server) muxClientFor(r *http.Request) *muxClient {
	sid := r.URL.Query().Get("sid")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muxClients[sid]
}

// handleMuxPoll replies with a batch of pending frames, or 204 when the
// poll window passes empty.
func (s *Server) handleMuxPoll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	mc := s.muxClientFor(r)
	if mc == nil {
		http.Error(w, "unknown sid", http.StatusNotFound)
		return
	}

	select {
	case <-mc.upgraded:
		// The websocket owns delivery now.
		w.WriteHeader(http.StatusNoContent)
		return
	default:
	}

	timer := time.NewTimer(s.cfg.PollTimeout)
	defer timer.Stop()

	var frames []json.RawMessage
	select {
	case <-r.Context().Done():
		return
	case <-mc.done:
		w.WriteHeader(http.StatusNoContent)
		return
	case <-mc.upgraded:
		w.WriteHeader(http.StatusNoContent)
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case data := <-mc.out:
		frames = append(frames, data)
	}

	// Batch whatever else is already pending.
	for {
		select {
		case data := <-mc.out:
			frames = append(frames, data)
			continue
		default:
		}
		break
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frames)
}

// handleMuxSend ingests one envelope for a polling mux client.
func (s *Server) handleMuxSend(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	mc := s.muxClientFor(r)
	if mc == nil {
		http.Error(w, "unknown sid", http.StatusNotFound)
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

	s.handleEnvelope(mc.client, env)
	w.WriteHeader(http.StatusNoContent)
}

// handleMuxWS upgrades a mux session to a websocket carrier. The sid must
// come from a prior handshake; delivery moves from polling to the socket.
func (s *Server) handleMuxWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	mc := s.muxClientFor(r)
	if mc == nil {
		http.Error(w, "unknown sid", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("mux upgrade failed", "conn_id", mc.id, "err", err)
		return
	}
	close(mc.upgraded)
	s.log.Debug("mux client upgraded", "conn_id", mc.id)

	go s.wsWritePump(mc.client, conn)
	s.wsReadLoop(mc.client, conn)
}
