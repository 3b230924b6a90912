package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/groundline/groundline/internal/errdefs"
)

// fakeClock provides a controllable monotonic clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(ratePerMinute int, clock *fakeClock) *Limiter {
	return NewLimiter(Config{
		RatePerMinute:      ratePerMinute,
		MaxRequestBytes:    10 * 1024 * 1024,
		MaxFilesPerRequest: 10,
		Enabled:            true,
		Now:                clock.Now,
	})
}

func TestBurstThenThrottle(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(5, clock)

	// A burst of exactly the capacity is admitted within one second.
	for i := 0; i < 5; i++ {
		clock.Advance(100 * time.Millisecond)
		if d := limiter.Admit("user-1"); !d.Allowed {
			t.Fatalf("request %d throttled, want admitted", i+1)
		}
	}

	// The next request inside the same second is throttled, and with a
	// 5/60 per-second refill the wait is at least 11 seconds.
	d := limiter.Admit("user-1")
	if d.Allowed {
		t.Fatal("6th request admitted, want throttled")
	}
	if d.RetryAfter < 11*time.Second {
		t.Errorf("RetryAfter = %v, want >= 11s at 5/min refill", d.RetryAfter)
	}
}

func TestRefillAdmitsAgain(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(60, clock)

	for i := 0; i < 60; i++ {
		if d := limiter.Admit("u"); !d.Allowed {
			t.Fatalf("request %d throttled during initial burst", i+1)
		}
	}
	if d := limiter.Admit("u"); d.Allowed {
		t.Fatal("expected empty bucket")
	}

	// 60/min refills one token per second.
	clock.Advance(1100 * time.Millisecond)
	if d := limiter.Admit("u"); !d.Allowed {
		t.Errorf("request after refill throttled, RetryAfter=%v", d.RetryAfter)
	}
}

func TestCapacityPerWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(10, clock)

	admitted := 0
	// Spread attempts over a 60 second window; no more than 2x capacity
	// can ever pass (initial burst + one window of refill).
	for i := 0; i < 600; i++ {
		if d := limiter.Admit("w"); d.Allowed {
			admitted++
		}
		clock.Advance(100 * time.Millisecond)
	}
	if admitted > 20 {
		t.Errorf("admitted %d in 60s, want <= capacity + refill (20)", admitted)
	}
	if admitted < 19 {
		t.Errorf("admitted %d in 60s, want close to 20", admitted)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(1, clock)

	if d := limiter.Admit("a"); !d.Allowed {
		t.Fatal("first request for key a throttled")
	}
	if d := limiter.Admit("a"); d.Allowed {
		t.Fatal("second request for key a admitted")
	}
	if d := limiter.Admit("b"); !d.Allowed {
		t.Error("key b should have its own bucket")
	}
}

func TestDisabledLimiterAdmitsEverything(t *testing.T) {
	limiter := NewLimiter(Config{RatePerMinute: 1, Enabled: false})
	for i := 0; i < 100; i++ {
		if d := limiter.Admit("x"); !d.Allowed {
			t.Fatal("disabled limiter should admit all requests")
		}
	}
}

func TestConcurrentAdmitSameKey(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(50, clock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := limiter.Admit("shared"); d.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 50 {
		t.Errorf("admitted = %d, want exactly the capacity 50", admitted)
	}
}

func TestValidateIngest(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())

	if err := limiter.ValidateIngest(1024, 3); err != nil {
		t.Errorf("small request rejected: %v", err)
	}

	err := limiter.ValidateIngest(11*1024*1024, 1)
	if errdefs.KindOf(err) != errdefs.KindRequestTooLarge {
		t.Errorf("oversize request: kind = %v, want request_too_large", errdefs.KindOf(err))
	}

	err = limiter.ValidateIngest(1024, 11)
	if errdefs.KindOf(err) != errdefs.KindRequestTooLarge {
		t.Errorf("too many files: kind = %v, want request_too_large", errdefs.KindOf(err))
	}

	err = limiter.ValidateIngest(0, 0)
	if errdefs.KindOf(err) != errdefs.KindInvalidInput {
		t.Errorf("empty request: kind = %v, want invalid_input", errdefs.KindOf(err))
	}
	var e *errdefs.Error
	if !errors.As(err, &e) {
		t.Error("validation errors should be taxonomy errors")
	}
}
