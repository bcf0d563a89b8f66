package relay

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/parcelview/realtime-go/pkg/telemetry"
)

// StoredBatch is one retained ingest entry.
type StoredBatch struct {
	ReceivedAt time.Time
	Remote     string
	Batch      telemetry.Batch
}

// telemetryStore retains the last N ingested batches.
type telemetryStore struct {
	mu      sync.Mutex
	max     int
	batches []StoredBatch
}

func newTelemetryStore(max int) *telemetryStore {
	return &telemetryStore{max: max}
}

func (t *telemetryStore) add(b StoredBatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = append(t.batches, b)
	if len(t.batches) > t.max {
		t.batches = t.batches[len(t.batches)-t.max:]
	}
}

func (t *telemetryStore) all() []StoredBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]StoredBatch(nil), t.batches...)
}

// limiterFor returns the per-address ingest limiter, creating it on first
// sight.
func (s *Server) limiterFor(remote string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.cfg.TelemetryRate, s.cfg.TelemetryBurst)
		s.limiters[host] = l
	}
	return l
}

// handleTelemetry ingests one batch. Accepted batches are retained for
// inspection; over-rate clients get a 429.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.limiterFor(r.RemoteAddr).Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var batch telemetry.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "bad batch", http.StatusBadRequest)
		return
	}
	if batch.BatchID == "" {
		http.Error(w, "batchId required", http.StatusBadRequest)
		return
	}

	s.telemetry.add(StoredBatch{
		ReceivedAt: time.Now(),
		Remote:     r.RemoteAddr,
		Batch:      batch,
	})
	s.log.Debug("telemetry batch ingested",
		"batch_id", batch.BatchID, "records", len(batch.Metrics), "remote", r.RemoteAddr)

	w.WriteHeader(http.StatusNoContent)
}
