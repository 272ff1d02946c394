package bus

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before the nth redelivery attempt.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns an exponential backoff with jitter: half the exponential
// wait plus a random share of the other half, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Initial
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Minute
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(half)))
	return half + jitter
}
