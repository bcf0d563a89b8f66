package telemetry

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/parcelview/realtime-go/pkg/connection"
	"github.com/parcelview/realtime-go/pkg/log"
)

// Batcher defaults.
const (
	// DefaultMaxBatchSize flushes a batch when this many records buffered.
	DefaultMaxBatchSize = 50

	// DefaultReportInterval flushes buffered records periodically.
	DefaultReportInterval = 30 * time.Second

	// DefaultMaxRetryAttempts bounds delivery retries before a batch is
	// parked.
	DefaultMaxRetryAttempts = 3

	// DefaultMaxPending bounds the parked batch list.
	DefaultMaxPending = 16

	// DefaultSendTimeout bounds a single delivery attempt.
	DefaultSendTimeout = 10 * time.Second
)

// Config configures a Batcher.
type Config struct {
	// Endpoint is the ingest URL. Ignored when Sender is set.
	Endpoint string

	// MaxBatchSize triggers a flush when the buffer reaches this size.
	MaxBatchSize int

	// ReportInterval triggers periodic flushes.
	ReportInterval time.Duration

	// MaxRetryAttempts bounds delivery retries per batch before parking.
	MaxRetryAttempts int

	// MaxPending bounds the parked batch list; oldest evicted beyond it.
	MaxPending int

	// SampleRate in (0, 1) drops whole batches probabilistically before
	// send. Zero or >= 1 sends everything.
	SampleRate float64

	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration

	// Backoff tunes the retry delay schedule.
	Backoff connection.BackoffConfig

	// DeviceInfo is attached to every batch.
	DeviceInfo DeviceInfo

	// Tags are attached to every batch.
	Tags map[string]string

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger

	// Capture receives delivery capture events. Nil disables capture.
	Capture log.Logger

	// Rand seeds batch sampling; nil uses a time-seeded source.
	Rand *rand.Rand

	// Sender delivers batches. Nil uses an HTTPSender for Endpoint.
	Sender Sender
}

// DefaultConfig returns production defaults for the given ingest URL.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:         endpoint,
		MaxBatchSize:     DefaultMaxBatchSize,
		ReportInterval:   DefaultReportInterval,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		MaxPending:       DefaultMaxPending,
		SendTimeout:      DefaultSendTimeout,
		Backoff:          connection.DefaultBackoffConfig(),
	}
}

func (c *Config) normalize() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.SampleRate <= 0 || c.SampleRate >= 1 {
		c.SampleRate = 1
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Capture = log.OrNoop(c.Capture)
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Sender == nil {
		c.Sender = NewHTTPSender(c.Endpoint, nil)
	}
}

// Stats is a read-only snapshot of batcher counters.
type Stats struct {
	RecordsBuffered int
	BatchesSent     uint64
	BatchesParked   int
	BatchesDropped  uint64
	SendFailures    uint64
}

// Batcher buffers records and ships them in batches. Record never blocks
// and never fails; delivery problems are absorbed by retry, parking and
// the online-replay path.
type Batcher struct {
	cfg     Config
	backoff *connection.Backoff

	mu      sync.Mutex
	buf     []Record
	parked  []*Batch
	sent    uint64
	dropped uint64
	failed  uint64
	closed  bool

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewBatcher creates and starts a Batcher.
func NewBatcher(cfg Config) *Batcher {
	cfg.normalize()

	backoff := connection.NewBackoffWithConfig(cfg.Backoff)
	if cfg.Rand != nil {
		backoff.SetRand(cfg.Rand)
	}

	b := &Batcher{
		cfg:     cfg,
		backoff: backoff,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Record buffers one metric sample. Never blocks; recording after Close
// is a no-op.
func (b *Batcher) Record(name string, value float64, tags map[string]string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.buf = append(b.buf, Record{
		Name:      name,
		Value:     value,
		Tags:      tags,
		Timestamp: now(),
	})
	full := len(b.buf) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// Flush requests an asynchronous flush of the current buffer.
func (b *Batcher) Flush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// NotifyOnline replays each parked batch exactly once. Called when the
// connection manager reports the link is back. Non-blocking.
func (b *Batcher) NotifyOnline() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	parked := b.parked
	b.parked = nil
	if len(parked) == 0 {
		b.mu.Unlock()
		return
	}
	// Add under the lock so Close cannot observe a zero waitgroup
	// between our closed check and the goroutine start.
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for _, batch := range parked {
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
			err := b.cfg.Sender.Send(ctx, batch)
			cancel()
			if err != nil {
				// One attempt per signal; back to the parked list for
				// the next one.
				b.cfg.Logger.Debug("parked batch replay failed", "batch_id", batch.BatchID, "err", err)
				b.recordFailure(batch, err)
				b.park(batch)
				continue
			}
			b.recordSent(batch)
		}
	}()
}

// Stats returns a snapshot of the batcher counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		RecordsBuffered: len(b.buf),
		BatchesSent:     b.sent,
		BatchesParked:   len(b.parked),
		BatchesDropped:  b.dropped,
		SendFailures:    b.failed,
	}
}

// Close flushes the remaining buffer on the beacon path and stops the
// delivery loop. Idempotent.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	records := b.buf
	b.buf = nil
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	// Teardown delivery: fire-and-forget, no retry, no parking. The
	// process is going away; a blocking retry loop here would stall it.
	if len(records) > 0 {
		batch := newBatch(records, b.cfg.DeviceInfo, b.cfg.Tags)
		if b.sampled(batch) {
			b.cfg.Sender.SendBeacon(batch)
		}
	}
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.deliverBuffered()
		case <-b.flushCh:
			b.deliverBuffered()
		}
	}
}

// deliverBuffered seals the buffer into a batch and delivers it with
// retries. Runs on the delivery goroutine only.
func (b *Batcher) deliverBuffered() {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	records := b.buf
	b.buf = nil
	b.mu.Unlock()

	batch := newBatch(records, b.cfg.DeviceInfo, b.cfg.Tags)
	if !b.sampled(batch) {
		return
	}
	b.deliver(batch)
}

// sampled decides once per batch whether it ships. Dropped batches are
// counted and never retried.
func (b *Batcher) sampled(batch *Batch) bool {
	if b.cfg.SampleRate >= 1 {
		return true
	}
	b.mu.Lock()
	keep := b.cfg.Rand.Float64() < b.cfg.SampleRate
	if !keep {
		b.dropped++
	}
	b.mu.Unlock()
	return keep
}

// deliver makes one initial attempt plus up to MaxRetryAttempts retries
// with backoff, parking the batch when the budget is exhausted.
func (b *Batcher) deliver(batch *Batch) {
	b.backoff.Reset()

	for attempt := 0; attempt <= b.cfg.MaxRetryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SendTimeout)
		err := b.cfg.Sender.Send(ctx, batch)
		cancel()
		if err == nil {
			b.recordSent(batch)
			return
		}
		b.recordFailure(batch, err)

		if attempt == b.cfg.MaxRetryAttempts {
			break
		}
		select {
		case <-b.stopCh:
			b.park(batch)
			return
		case <-time.After(b.backoff.Next()):
		}
	}

	b.cfg.Logger.Debug("batch delivery exhausted retries, parking", "batch_id", batch.BatchID)
	b.park(batch)
}

func (b *Batcher) park(batch *Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parked = append(b.parked, batch)
	if len(b.parked) > b.cfg.MaxPending {
		b.parked = b.parked[1:]
		b.dropped++
	}
}

func (b *Batcher) recordSent(batch *Batch) {
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	b.cfg.Logger.Debug("batch delivered", "batch_id", batch.BatchID, "records", len(batch.Metrics))
}

func (b *Batcher) recordFailure(batch *Batch, err error) {
	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
	b.cfg.Capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionOut,
		Layer:     log.LayerTelemetry,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTelemetry,
			Message: err.Error(),
			Context: "deliver batch " + batch.BatchID,
		},
	})
}
