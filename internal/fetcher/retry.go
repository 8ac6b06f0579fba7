package fetcher

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Default retry knobs.
const (
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = 2 * time.Second
	DefaultRateLimitCooldown = 30 * time.Second
	DefaultJitterMin         = 1 * time.Second
	DefaultJitterMax         = 3 * time.Second
)

// RetryPolicy computes waits between fetch attempts: BaseDelay * 2^attempt plus
// a random jitter in [JitterMin, JitterMax).
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	RateLimitCooldown time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRetryPolicy fills zero values with defaults. rng may be nil.
func NewRetryPolicy(maxAttempts int, baseDelay, cooldown time.Duration, rng *rand.Rand) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	if cooldown <= 0 {
		cooldown = DefaultRateLimitCooldown
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- jitter only
	}
	return &RetryPolicy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         baseDelay,
		RateLimitCooldown: cooldown,
		JitterMin:         DefaultJitterMin,
		JitterMax:         DefaultJitterMax,
		rng:               rng,
	}
}

// Backoff returns the wait after the given zero-based attempt failed.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	return time.Duration(delay) + p.Jitter()
}

// InitialDelay is slept before the first attempt to avoid a bursty signature.
func (p *RetryPolicy) InitialDelay() time.Duration {
	return p.Jitter()
}

// Jitter returns a random duration in [JitterMin, JitterMax).
func (p *RetryPolicy) Jitter() time.Duration {
	span := p.JitterMax - p.JitterMin
	if span <= 0 {
		return p.JitterMin
	}
	p.mu.Lock()
	n := p.rng.Int63n(int64(span))
	p.mu.Unlock()
	return p.JitterMin + time.Duration(n)
}

// Intn draws from the policy's random source; it satisfies Picker.
func (p *RetryPolicy) Intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}
