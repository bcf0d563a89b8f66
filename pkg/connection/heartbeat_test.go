package connection

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pingRecorder captures sent ping sequences and can simulate send failure.
type pingRecorder struct {
	mu   sync.Mutex
	seqs []uint64
	ok   bool
}

func (p *pingRecorder) send(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs = append(p.seqs, seq)
	return p.ok
}

func (p *pingRecorder) last() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.seqs) == 0 {
		return 0, false
	}
	return p.seqs[len(p.seqs)-1], true
}

func (p *pingRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seqs)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHeartbeatSendsPings(t *testing.T) {
	rec := &pingRecorder{ok: true}
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        15 * time.Millisecond,
		PongTimeout:     5 * time.Millisecond,
		MissedPongLimit: 100,
	}, rec.send, func() {})
	defer hb.Stop()

	hb.Start()
	waitUntil(t, time.Second, func() bool { return rec.count() >= 3 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, seq := range rec.seqs[:3] {
		if seq != uint64(i+1) {
			t.Errorf("ping %d: seq = %d, want %d", i, seq, i+1)
		}
	}
}

func TestHeartbeatPongResetsMissedCount(t *testing.T) {
	rec := &pingRecorder{ok: true}
	var timedOut atomic.Bool
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        15 * time.Millisecond,
		PongTimeout:     5 * time.Millisecond,
		MissedPongLimit: 2,
	}, nil, func() { timedOut.Store(true) })
	hb.sendPing = func(seq uint64) bool {
		ok := rec.send(seq)
		// Answer every ping promptly.
		go hb.PongReceived(seq, time.Now().UnixMilli())
		return ok
	}
	defer hb.Stop()

	hb.Start()
	waitUntil(t, time.Second, func() bool { return rec.count() >= 4 })

	if timedOut.Load() {
		t.Error("timed out despite every ping being answered")
	}
	if got := hb.Stats().MissedPongs; got != 0 {
		t.Errorf("missed pongs = %d, want 0", got)
	}
}

func TestHeartbeatMissedPongLimitTriggersTimeout(t *testing.T) {
	rec := &pingRecorder{ok: true}
	timeoutCh := make(chan struct{}, 1)
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        10 * time.Millisecond,
		PongTimeout:     5 * time.Millisecond,
		MissedPongLimit: 2,
	}, rec.send, func() { timeoutCh <- struct{}{} })
	defer hb.Stop()

	hb.Start()
	select {
	case <-timeoutCh:
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}

	if hb.Stats().MissedPongs < 2 {
		t.Errorf("missed pongs = %d, want >= 2", hb.Stats().MissedPongs)
	}
}

func TestHeartbeatLatencyFromEchoedTimestamp(t *testing.T) {
	rec := &pingRecorder{ok: true}
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        10 * time.Millisecond,
		PongTimeout:     time.Second,
		MissedPongLimit: 100,
	}, rec.send, func() {})
	defer hb.Stop()

	latencyCh := make(chan time.Duration, 1)
	hb.SetLatencyCallback(func(l time.Duration) {
		select {
		case latencyCh <- l:
		default:
		}
	})

	hb.Start()
	waitUntil(t, time.Second, func() bool { return rec.count() >= 1 })

	// Echo a timestamp 50ms in the past; measured latency must be at
	// least that far back.
	seq, _ := rec.last()
	hb.PongReceived(seq, time.Now().Add(-50*time.Millisecond).UnixMilli())

	select {
	case l := <-latencyCh:
		if l < 45*time.Millisecond {
			t.Errorf("latency = %v, want >= ~50ms", l)
		}
	case <-time.After(time.Second):
		t.Fatal("latency callback never fired")
	}
}

func TestHeartbeatStaleAndUnknownPongsIgnored(t *testing.T) {
	rec := &pingRecorder{ok: true}
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        10 * time.Millisecond,
		PongTimeout:     time.Second,
		MissedPongLimit: 100,
	}, rec.send, func() {})
	defer hb.Stop()

	var latencies atomic.Int32
	hb.SetLatencyCallback(func(time.Duration) { latencies.Add(1) })

	hb.Start()
	waitUntil(t, time.Second, func() bool { return rec.count() >= 1 })

	// A pong for a sequence that was never sent must not count.
	hb.PongReceived(9999, time.Now().UnixMilli())
	time.Sleep(20 * time.Millisecond)

	if latencies.Load() != 0 {
		t.Errorf("latency callbacks = %d, want 0", latencies.Load())
	}
}

func TestHeartbeatStopIsIdempotent(t *testing.T) {
	rec := &pingRecorder{ok: true}
	hb := NewHeartbeat(HeartbeatConfig{
		Interval:        10 * time.Millisecond,
		PongTimeout:     5 * time.Millisecond,
		MissedPongLimit: 100,
	}, rec.send, func() {})

	hb.Start()
	hb.Stop()
	hb.Stop()

	if hb.IsRunning() {
		t.Error("still running after stop")
	}

	n := rec.count()
	time.Sleep(30 * time.Millisecond)
	if rec.count() > n+1 {
		t.Errorf("pings kept flowing after stop: %d -> %d", n, rec.count())
	}
}

func TestHeartbeatDetectionDelay(t *testing.T) {
	cfg := HeartbeatConfig{
		Interval:        30 * time.Second,
		PongTimeout:     5 * time.Second,
		MissedPongLimit: 2,
	}
	if got, want := cfg.DetectionDelay(), 65*time.Second; got != want {
		t.Errorf("detection delay = %v, want %v", got, want)
	}
}
