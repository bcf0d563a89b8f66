package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Default backoff parameters.
const (
	// InitialBackoff is the initial reconnection delay.
	InitialBackoff = 1 * time.Second

	// MaxBackoff is the maximum reconnection delay.
	MaxBackoff = 60 * time.Second

	// BackoffFactor is the factor by which backoff increases.
	BackoffFactor = 2.0

	// JitterRatio is the maximum jitter as a fraction of base delay.
	JitterRatio = 0.25
)

// BackoffConfig customizes backoff parameters.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial: InitialBackoff,
		Max:     MaxBackoff,
		Factor:  BackoffFactor,
		Jitter:  JitterRatio,
	}
}

// Backoff calculates exponential backoff delays with jitter.
//
//	delay(attempt) = min(max, initial * factor^attempt) * (1 ± jitter·random)
//
// Jittered delays never exceed Max.
type Backoff struct {
	mu sync.Mutex

	// Current backoff delay (before jitter)
	current time.Duration

	// Configuration
	initial time.Duration
	max     time.Duration
	factor  float64
	jitter  float64

	// Attempt counter
	attempts int

	// Random source for jitter
	rng *rand.Rand
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
// Zero fields fall back to the defaults.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Factor <= 1 {
		cfg.Factor = BackoffFactor
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current: cfg.Initial,
		initial: cfg.Initial,
		max:     cfg.Max,
		factor:  cfg.Factor,
		jitter:  cfg.Jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the jitter random source. A seeded source makes the
// delay sequence deterministic for tests.
func (b *Backoff) SetRand(rng *rand.Rand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rng != nil {
		b.rng = rng
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	// Advance to next backoff value
	b.attempts++
	next := time.Duration(float64(b.current) * b.factor)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Peek returns the current backoff delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.current)
}

// Reset resets the backoff to initial values.
// Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of backoff attempts since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// addJitter perturbs a delay by up to ±jitter, clamped to [0, max].
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	perturbation := b.jitter * (2*b.rng.Float64() - 1)
	jittered := time.Duration(float64(d) * (1 + perturbation))
	if jittered > b.max {
		jittered = b.max
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
