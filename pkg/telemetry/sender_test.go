package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSenderPostsBatch(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, srv.Client())
	batch := newBatch([]Record{{Name: "latency.ms", Value: 42, Timestamp: now()}},
		DeviceInfo{Platform: "linux"}, map[string]string{"env": "test"})

	require.NoError(t, s.Send(context.Background(), batch))
	assert.Equal(t, batch.BatchID, got.BatchID)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, "latency.ms", got.Metrics[0].Name)
	assert.Equal(t, "linux", got.DeviceInfo.Platform)
	assert.Equal(t, "test", got.Tags["env"])
}

func TestHTTPSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, srv.Client())
	err := s.Send(context.Background(), newBatch(nil, DeviceInfo{}, nil))
	assert.Error(t, err)
}

func TestHTTPSenderBeaconIgnoresFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, srv.Client())
	s.SendBeacon(newBatch([]Record{{Name: "m", Value: 1}}, DeviceInfo{}, nil))
	assert.Equal(t, int32(1), hits.Load())
}
