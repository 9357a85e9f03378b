package pipeline

import "time"

// Backoff computes capped exponential delays for reconnect cycles.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay for the given zero-based attempt: the base
// doubled per attempt, capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 2 * time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
