package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRandSchedule(t *testing.T) {
	policy := DependencyPolicy()

	// random = 0.5 means zero jitter shift.
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 1600 * time.Millisecond},
	}
	for _, tt := range tests {
		got := ComputeWithRand(policy, tt.attempt, 0.5)
		if got != tt.want {
			t.Errorf("attempt %d: backoff = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestComputeJitterBounds(t *testing.T) {
	policy := DependencyPolicy()

	lo := ComputeWithRand(policy, 2, 0.0)
	hi := ComputeWithRand(policy, 2, 0.999999)

	if lo < 320*time.Millisecond || lo > 400*time.Millisecond {
		t.Errorf("low jitter bound = %v, want within [320ms, 400ms]", lo)
	}
	if hi < 400*time.Millisecond || hi > 480*time.Millisecond {
		t.Errorf("high jitter bound = %v, want within [400ms, 480ms]", hi)
	}
}

func TestComputeRespectsMax(t *testing.T) {
	policy := Policy{Initial: time.Second, Max: 2 * time.Second, Factor: 10, Jitter: 0}
	if got := ComputeWithRand(policy, 5, 0.5); got != 2*time.Second {
		t.Errorf("backoff = %v, want clamped to 2s", got)
	}
}

func TestComputeFirstAttemptFloor(t *testing.T) {
	policy := DependencyPolicy()
	if got := ComputeWithRand(policy, 0, 0.5); got != 100*time.Millisecond {
		t.Errorf("attempt 0 treated as 1: got %v", got)
	}
}
