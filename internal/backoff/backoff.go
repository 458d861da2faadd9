// Package backoff computes jittered exponential delays for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential delay schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor is the multiplier applied per attempt.
	Factor float64

	// Jitter is the randomization fraction (0.0 to 1.0) added on top of
	// the computed delay to spread out synchronized retries.
	Jitter float64
}

// Exponential returns a policy that doubles from initial up to max with
// 10% jitter. A zero initial defaults to one second.
func Exponential(initial, max time.Duration) Policy {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return Policy{Initial: initial, Max: max, Factor: 2, Jitter: 0.1}
}

// Linear returns a policy whose delay grows by initial per attempt,
// without jitter.
func Linear(initial, max time.Duration) Policy {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return Policy{Initial: initial, Max: max, Factor: 1}
}

// Delay returns the sleep duration preceding the given retry attempt.
// Attempts are 1-indexed; attempt values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var base float64
	if p.Factor <= 1 {
		base = float64(p.Initial) * float64(attempt)
	} else {
		base = float64(p.Initial) * math.Pow(p.Factor, float64(attempt-1))
	}
	total := base + base*p.Jitter*random
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits out the delay for the given attempt, returning early with
// ctx.Err() if the context is cancelled.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
