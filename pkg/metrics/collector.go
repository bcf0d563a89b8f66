// Package metrics exposes connection and telemetry counters as a
// Prometheus collector. The connection manager itself stays free of any
// metrics dependency; this package reads its snapshots.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parcelview/realtime-go/pkg/connection"
	"github.com/parcelview/realtime-go/pkg/telemetry"
)

const namespace = "parcelview_realtime"

// Collector bridges a connection.Manager (and optionally a
// telemetry.Batcher) to Prometheus. Register it on any registry.
type Collector struct {
	manager *connection.Manager
	batcher *telemetry.Batcher

	state            *prometheus.Desc
	messagesSent     *prometheus.Desc
	messagesReceived *prometheus.Desc
	reconnects       *prometheus.Desc
	failedAttempts   *prometheus.Desc
	queueDepth       *prometheus.Desc
	queueDropped     *prometheus.Desc
	lastLatency      *prometheus.Desc
	avgLatency       *prometheus.Desc
	uptime           *prometheus.Desc

	telemetrySent     *prometheus.Desc
	telemetryDropped  *prometheus.Desc
	telemetryParked   *prometheus.Desc
	telemetryFailures *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for the given manager. The batcher is
// optional; nil skips the telemetry series.
func NewCollector(m *connection.Manager, b *telemetry.Batcher) *Collector {
	return &Collector{
		manager: m,
		batcher: b,
		state: prometheus.NewDesc(
			namespace+"_connection_state",
			"Current connection state (1 for the active state).",
			[]string{"state"}, nil),
		messagesSent: prometheus.NewDesc(
			namespace+"_messages_sent_total",
			"Messages handed to the transport.",
			nil, nil),
		messagesReceived: prometheus.NewDesc(
			namespace+"_messages_received_total",
			"Messages received from the transport.",
			nil, nil),
		reconnects: prometheus.NewDesc(
			namespace+"_reconnects_total",
			"Reconnect attempts scheduled.",
			nil, nil),
		failedAttempts: prometheus.NewDesc(
			namespace+"_failed_attempts_total",
			"Connection attempts that failed.",
			nil, nil),
		queueDepth: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Messages buffered while disconnected.",
			nil, nil),
		queueDropped: prometheus.NewDesc(
			namespace+"_queue_dropped_total",
			"Messages evicted from the outbound queue.",
			nil, nil),
		lastLatency: prometheus.NewDesc(
			namespace+"_heartbeat_latency_seconds",
			"Most recent heartbeat round trip.",
			nil, nil),
		avgLatency: prometheus.NewDesc(
			namespace+"_heartbeat_latency_avg_seconds",
			"Running average heartbeat round trip.",
			nil, nil),
		uptime: prometheus.NewDesc(
			namespace+"_connected_seconds",
			"Time since the current connection became ready.",
			[]string{"transport", "mechanism"}, nil),
		telemetrySent: prometheus.NewDesc(
			namespace+"_telemetry_batches_sent_total",
			"Telemetry batches delivered.",
			nil, nil),
		telemetryDropped: prometheus.NewDesc(
			namespace+"_telemetry_batches_dropped_total",
			"Telemetry batches dropped by sampling or parking overflow.",
			nil, nil),
		telemetryParked: prometheus.NewDesc(
			namespace+"_telemetry_batches_parked",
			"Telemetry batches awaiting an online replay.",
			nil, nil),
		telemetryFailures: prometheus.NewDesc(
			namespace+"_telemetry_send_failures_total",
			"Telemetry delivery attempts that failed.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.messagesSent
	ch <- c.messagesReceived
	ch <- c.reconnects
	ch <- c.failedAttempts
	ch <- c.queueDepth
	ch <- c.queueDropped
	ch <- c.lastLatency
	ch <- c.avgLatency
	ch <- c.uptime
	if c.batcher != nil {
		ch <- c.telemetrySent
		ch <- c.telemetryDropped
		ch <- c.telemetryParked
		ch <- c.telemetryFailures
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.manager.Status()
	stats := status.Stats

	current := status.State
	for s := connection.StateDisconnected; s <= connection.StateFailed; s++ {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}

	ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(stats.MessagesSent))
	ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue, float64(stats.MessagesReceived))
	ch <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(stats.ReconnectCount))
	ch <- prometheus.MustNewConstMetric(c.failedAttempts, prometheus.CounterValue, float64(stats.FailedAttempts))
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(stats.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.queueDropped, prometheus.CounterValue, float64(stats.QueueDropped))
	ch <- prometheus.MustNewConstMetric(c.lastLatency, prometheus.GaugeValue, stats.LastLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, stats.AvgLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, stats.Uptime().Seconds(),
		stats.Transport, stats.Mechanism)

	if c.batcher != nil {
		ts := c.batcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.telemetrySent, prometheus.CounterValue, float64(ts.BatchesSent))
		ch <- prometheus.MustNewConstMetric(c.telemetryDropped, prometheus.CounterValue, float64(ts.BatchesDropped))
		ch <- prometheus.MustNewConstMetric(c.telemetryParked, prometheus.GaugeValue, float64(ts.BatchesParked))
		ch <- prometheus.MustNewConstMetric(c.telemetryFailures, prometheus.CounterValue, float64(ts.SendFailures))
	}
}
