package download

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes retry delays as a pure function of the attempt count.
// Delay(n) = Base * 2^min(n, ExponentCap) + jitter(0, Base), capped at Max
// before jitter. Keeping it deterministic apart from the injected jitter makes
// retry timing unit-testable without real time passing.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	ExponentCap int
	// Jitter returns a random duration in [0, d). Nil uses math/rand.
	Jitter func(d time.Duration) time.Duration
}

// DefaultBackoffPolicy returns the policy used by the lifecycle engine unless
// configured otherwise
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        30 * time.Second,
		Max:         30 * time.Minute,
		ExponentCap: 6,
	}
}

// Delay returns the wait before retry number attempts
func (p BackoffPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	exp := attempts
	if exp > p.ExponentCap {
		exp = p.ExponentCap
	}
	d := p.Base << uint(exp)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d + p.jitter()
}

// NextRetryAt returns the deadline for the next retry
func (p BackoffPolicy) NextRetryAt(now time.Time, attempts int) time.Time {
	return now.Add(p.Delay(attempts))
}

func (p BackoffPolicy) jitter() time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if p.Jitter != nil {
		return p.Jitter(p.Base)
	}
	return time.Duration(rand.Int63n(int64(p.Base)))
}
