package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays as a pure function of the attempt
// number: the initial delay doubles per attempt, gets multiplied by
// 1 +/- Jitter, and is clamped to Max. With Jitter <= 1/3 the resulting
// sequence is non-decreasing until it reaches the cap.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	// Rand supplies the jitter source in [0,1); nil uses math/rand.
	Rand func() float64
}

// Delay returns the pause before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.Initial) * math.Pow(2, float64(attempt-1))
	if b.Jitter > 0 {
		u := rand.Float64
		if b.Rand != nil {
			u = b.Rand
		}
		base *= 1 + b.Jitter*(2*u()-1)
	}
	if max := float64(b.Max); b.Max > 0 && base > max {
		base = max
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
