package syncer

import (
	"math"
	"time"
)

// RetryPolicy controls per-item retry limits and the backoff between
// drain passes that ended with recoverable failures.
type RetryPolicy struct {
	MaxRetries    int
	Backoff       time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
}

// NextBackoff returns the delay before retry pass n (1-based), growing by
// BackoffFactor per consecutive failed pass, with clamping.
func (r RetryPolicy) NextBackoff(pass int) time.Duration {
	if pass < 1 {
		pass = 1
	}
	base := r.Backoff
	if base <= 0 {
		base = 5 * time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 1
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(pass-1)))
	if r.MaxBackoff > 0 && d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	if d <= 0 {
		d = base
	}
	return d
}
