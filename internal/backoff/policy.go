// Package backoff computes retry delays and runs retry loops for calls to
// Slack and the LLM backends.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes how the wait grows between attempts.
type Policy struct {
	// Initial is the wait after the first failed attempt.
	Initial time.Duration
	// Max caps any single wait. Zero means no cap.
	Max time.Duration
	// Factor multiplies the wait per attempt. Factor <= 1 gives linear growth:
	// Initial, 2*Initial, 3*Initial...
	Factor float64
	// Jitter adds up to this fraction of the wait at random (0.0 to 1.0).
	Jitter float64
}

// Linear returns a policy that waits step*n after attempt n.
func Linear(step time.Duration) Policy {
	return Policy{Initial: step}
}

// Exponential returns a doubling policy with 10% jitter.
func Exponential(initial, max time.Duration) Policy {
	return Policy{Initial: initial, Max: max, Factor: 2, Jitter: 0.1}
}

// Delay returns the wait after the given failed attempt, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand is Delay with a fixed random value in [0, 1).
func (p Policy) delayWithRand(attempt int, r float64) time.Duration {
	attempt = max(attempt, 1)
	var base float64
	if p.Factor <= 1 {
		base = float64(p.Initial) * float64(attempt)
	} else {
		base = float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	}
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(math.Round(total))
}
