package connection

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2,
		Jitter:  0,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d: got %v, want %v", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("attempts = %d, want %d", b.Attempts(), len(want))
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 50 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2,
		Jitter:  0,
	})

	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != 50*time.Millisecond {
		t.Errorf("after reset: got %v, want 50ms", got)
	}
	if b.Attempts() != 1 {
		t.Errorf("attempts after reset = %d, want 1", b.Attempts())
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     500 * time.Millisecond,
		Factor:  2,
		Jitter:  0.25,
	}
	b := NewBackoffWithConfig(cfg)
	b.SetRand(rand.New(rand.NewSource(42)))

	for i := 0; i < 50; i++ {
		d := b.Next()
		if d < 0 {
			t.Fatalf("attempt %d: negative delay %v", i, d)
		}
		if d > cfg.Max {
			t.Fatalf("attempt %d: delay %v exceeds max %v", i, d, cfg.Max)
		}
	}
}

func TestBackoffSeededDeterminism(t *testing.T) {
	mk := func() *Backoff {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     2 * time.Second,
			Factor:  2,
			Jitter:  0.25,
		})
		b.SetRand(rand.New(rand.NewSource(7)))
		return b
	}

	a, b := mk(), mk()
	for i := 0; i < 10; i++ {
		if da, db := a.Next(), b.Next(); da != db {
			t.Fatalf("attempt %d: %v != %v", i, da, db)
		}
	}
}

func TestBackoffPeekDoesNotAdvance(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     1 * time.Second,
		Factor:  2,
		Jitter:  0,
	})

	if got := b.Peek(); got != 100*time.Millisecond {
		t.Errorf("peek = %v, want 100ms", got)
	}
	if got := b.Peek(); got != 100*time.Millisecond {
		t.Errorf("second peek = %v, want 100ms", got)
	}
	if got := b.Next(); got != 100*time.Millisecond {
		t.Errorf("next after peek = %v, want 100ms", got)
	}
}

func TestBackoffZeroConfigDefaults(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{})
	if b.Current() != InitialBackoff {
		t.Errorf("initial = %v, want %v", b.Current(), InitialBackoff)
	}
}
