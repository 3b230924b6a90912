// Package backoff provides exponential backoff computation with jitter for
// retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the backoff after the first failure.
	Initial time.Duration
	// Max caps the computed backoff.
	Max time.Duration
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) applied symmetrically
	// around the base value.
	Jitter float64
}

// DependencyPolicy is the schedule used for transient dependency failures:
// 100 ms, 400 ms, 1600 ms with ±20% jitter.
func DependencyPolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  4,
		Jitter:  0.2,
	}
}

// Compute calculates the backoff duration for a given attempt number.
// Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff using a provided random value in
// [0.0, 1.0), for deterministic tests. Jitter shifts the base by
// base * jitter * (2*random - 1), so the result stays within ±jitter of the
// base.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.Initial) * math.Pow(policy.Factor, exp)

	shift := base * policy.Jitter * (2*randomValue - 1)
	total := base + shift
	if maxMs := float64(policy.Max); policy.Max > 0 && total > maxMs {
		total = maxMs
	}
	if total < 0 {
		total = 0
	}
	return time.Duration(total)
}
