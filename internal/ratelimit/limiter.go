// Package ratelimit implements the per-client admission controller: a token
// bucket per client key plus per-request size and count validation.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the admission controller.
type Config struct {
	// RatePerMinute is the bucket capacity; the refill rate is
	// RatePerMinute/60 tokens per second.
	RatePerMinute int
	// MaxRequestBytes bounds the total payload size of one ingest request.
	MaxRequestBytes int64
	// MaxFilesPerRequest bounds the file count of one ingest request.
	MaxFilesPerRequest int
	// Enabled controls whether rate limiting is active. Size validation
	// applies regardless.
	Enabled bool

	// Now supplies the bucket clock; defaults to time.Now. Injectable for
	// deterministic tests. Must be monotonic.
	Now func() time.Time
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() Config {
	return Config{
		RatePerMinute:      60,
		MaxRequestBytes:    10 * 1024 * 1024,
		MaxFilesPerRequest: 10,
		Enabled:            true,
	}
}

// bucket is a token bucket. Tokens are fractional; refill happens lazily on
// access from the elapsed time since the previous access.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(capacity int, now time.Time) *bucket {
	c := float64(capacity)
	return &bucket{
		tokens:     c,
		maxTokens:  c,
		refillRate: c / 60.0,
		lastRefill: now,
	}
}

// take consumes one token if available. When the bucket is empty it returns
// the wait until one token becomes available.
func (b *bucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	needed := 1 - b.tokens
	wait := time.Duration(needed / b.refillRate * float64(time.Second))
	return false, wait
}

// refill adds tokens for the elapsed interval; callers hold the lock.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter is the admission controller. Bucket mutation is serialized per
// client key; unrelated keys do not contend.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	config  Config
	maxKeys int
}

// NewLimiter creates a new admission controller.
func NewLimiter(config Config) *Limiter {
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = DefaultConfig().RatePerMinute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		config:  config,
		maxKeys: 10000,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool
	// RetryAfter is the time until one token becomes available, set when
	// the request was throttled.
	RetryAfter time.Duration
}

// Admit checks and consumes one token for the given client key.
func (l *Limiter) Admit(clientKey string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true}
	}
	b := l.getBucket(clientKey)
	ok, wait := b.take(l.config.Now())
	return Decision{Allowed: ok, RetryAfter: wait}
}

// getBucket returns or creates the bucket for a client key.
func (l *Limiter) getBucket(key string) *bucket {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()
	if exists {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, exists = l.buckets[key]; exists {
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune()
	}
	b = newBucket(l.config.RatePerMinute, l.config.Now())
	l.buckets[key] = b
	return b
}

// prune drops buckets that have refilled close to capacity; those keys have
// been idle long enough to recreate on demand.
func (l *Limiter) prune() {
	now := l.config.Now()
	for key, b := range l.buckets {
		b.mu.Lock()
		b.refill(now)
		full := b.tokens >= b.maxTokens*0.9
		b.mu.Unlock()
		if full {
			delete(l.buckets, key)
		}
	}
}

// Reset clears the bucket for a client key.
func (l *Limiter) Reset(clientKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, clientKey)
}
