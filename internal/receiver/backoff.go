package receiver

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: min(Base·2^attempt, Max) scaled by a
// uniform jitter in [1-JitterFactor, 1+JitterFactor].
type Backoff struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:         time.Second,
		Max:          30 * time.Second,
		JitterFactor: 0.15,
		Rand:         rand.Float64,
	}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := math.Min(float64(b.Base)*math.Pow(2, float64(attempt)), float64(b.Max))

	random := 0.5
	if b.Rand != nil {
		random = b.Rand()
	}

	jitter := 1 - b.JitterFactor + 2*b.JitterFactor*random

	return time.Duration(delay * jitter)
}
