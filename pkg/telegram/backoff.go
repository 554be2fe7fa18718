package telegram

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrTooManyFailures escalates a persistent outage to the process level;
// main exits non-zero and the supervisor restarts from a clean slate.
var ErrTooManyFailures = errors.New("too many consecutive transport failures")

// Backoff tracks the Healthy/Degraded state of the transport. Each failure
// doubles the delay up to a ceiling, with a small upward jitter so a fleet
// of restarting bots does not reconnect in lockstep.
type Backoff struct {
	base        time.Duration
	ceiling     time.Duration
	maxFailures int

	mu       sync.Mutex
	failures int
}

func NewBackoff(base, ceiling time.Duration, maxFailures int) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{base: base, ceiling: ceiling, maxFailures: maxFailures}
}

// Success returns the controller to Healthy.
func (b *Backoff) Success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// Failures returns the current consecutive-failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Next records one more failure and returns the delay before the next
// attempt. retryAfter, when the server supplied one, acts as a floor.
// After maxFailures consecutive failures it returns ErrTooManyFailures.
func (b *Backoff) Next(retryAfter time.Duration) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.maxFailures > 0 && b.failures >= b.maxFailures {
		return 0, ErrTooManyFailures
	}

	delay := b.ceiling
	if shift := uint(b.failures - 1); shift < 32 {
		if d := b.base << shift; d > 0 && d < b.ceiling {
			delay = d
		}
	}

	// Up to +10% jitter, still capped at the ceiling. Jitter never exceeds
	// the next doubling, so delays stay strictly increasing until capped.
	if delay < b.ceiling {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
		if delay > b.ceiling {
			delay = b.ceiling
		}
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay, nil
}
