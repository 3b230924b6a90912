package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/groundline/groundline/internal/backoff"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		Policy:      backoff.Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("still failing")
	err := Do(context.Background(), fastConfig(4), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func() error {
		calls++
		return Permanent(errors.New("bad input"))
	})
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on permanent)", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(4), func() error {
		t.Fatal("op should not run with cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	v, err := DoWithValue(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("DoWithValue() = (%d, %v), want (42, nil)", v, err)
	}
}

func TestDependencyConfig(t *testing.T) {
	cfg := Dependency()
	if cfg.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4 (initial + 3 retries)", cfg.MaxAttempts)
	}
}
