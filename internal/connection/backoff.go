package connection

import (
	"math"
	"time"
)

// Backoff bases used as a disconnection drags on.
const (
	backoffBaseInitial   = 1.5
	backoffBaseSustained = 2.0
	backoffBaseProlonged = 3.0

	sustainedOutageAfter = 30 * time.Second
	prolongedOutageAfter = 120 * time.Second
)

// Backoff computes reconnect delays.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// BackoffBase returns the exponent base for an outage of the given length.
func BackoffBase(disconnectedFor time.Duration) float64 {
	switch {
	case disconnectedFor >= prolongedOutageAfter:
		return backoffBaseProlonged
	case disconnectedFor >= sustainedOutageAfter:
		return backoffBaseSustained
	default:
		return backoffBaseInitial
	}
}

// BaseDelay returns the un-jittered delay for attempt N (1-based).
func (b Backoff) BaseDelay(attempt int, disconnectedFor time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Initial <= 0 {
		return 0
	}
	factor := math.Pow(BackoffBase(disconnectedFor), float64(attempt-1))
	delay := float64(b.Initial) * factor
	if math.IsInf(delay, 0) || delay > float64(b.Max) {
		return b.Max
	}
	return time.Duration(delay)
}

// Delay applies jitter to BaseDelay. r must be in [0, 1); the result lies in
// [base*(1-Jitter), base*(1+Jitter)].
func (b Backoff) Delay(attempt int, disconnectedFor time.Duration, r float64) time.Duration {
	base := b.BaseDelay(attempt, disconnectedFor)
	if b.Jitter <= 0 {
		return base
	}
	scale := 1 - b.Jitter + 2*b.Jitter*r
	return time.Duration(float64(base) * scale)
}
