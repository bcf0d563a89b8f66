package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelview/realtime-go/pkg/connection"
	"github.com/parcelview/realtime-go/pkg/telemetry"
)

func newIdleManager(t *testing.T) *connection.Manager {
	t.Helper()
	m, err := connection.NewManager(connection.DefaultConfig("ws://realtime.test/rt"))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestCollectorRegistersAndCollects(t *testing.T) {
	m := newIdleManager(t)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(m, nil)))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"parcelview_realtime_connection_state",
		"parcelview_realtime_messages_sent_total",
		"parcelview_realtime_queue_depth",
		"parcelview_realtime_heartbeat_latency_seconds",
	} {
		assert.True(t, names[want], "missing series %s", want)
	}
}

func TestCollectorReportsCurrentState(t *testing.T) {
	m := newIdleManager(t)
	c := NewCollector(m, nil)

	expected := `
		# HELP parcelview_realtime_connection_state Current connection state (1 for the active state).
		# TYPE parcelview_realtime_connection_state gauge
		parcelview_realtime_connection_state{state="AUTHENTICATING"} 0
		parcelview_realtime_connection_state{state="CONNECTED"} 0
		parcelview_realtime_connection_state{state="CONNECTING"} 0
		parcelview_realtime_connection_state{state="DISCONNECTED"} 1
		parcelview_realtime_connection_state{state="FAILED"} 0
		parcelview_realtime_connection_state{state="RECONNECTING"} 0
	`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"parcelview_realtime_connection_state"))
}

func TestCollectorIncludesTelemetrySeries(t *testing.T) {
	m := newIdleManager(t)

	cfg := telemetry.DefaultConfig("http://ingest.test/telemetry")
	b := telemetry.NewBatcher(cfg)
	t.Cleanup(b.Close)

	c := NewCollector(m, b)
	count := testutil.CollectAndCount(c,
		"parcelview_realtime_telemetry_batches_sent_total",
		"parcelview_realtime_telemetry_batches_parked")
	assert.Equal(t, 2, count)
}

func TestCollectorQueueDepthTracksManager(t *testing.T) {
	m := newIdleManager(t)
	c := NewCollector(m, nil)

	m.Send([]byte("queued while down"))
	m.Send([]byte("another"))

	got := testutil.CollectAndCount(c, "parcelview_realtime_queue_depth")
	require.Equal(t, 1, got)

	expected := `
		# HELP parcelview_realtime_queue_depth Messages buffered while disconnected.
		# TYPE parcelview_realtime_queue_depth gauge
		parcelview_realtime_queue_depth 2
	`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"parcelview_realtime_queue_depth"))
}
