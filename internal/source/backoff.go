package source

import "time"

// backoff implements the bounded exponential backoff spec §4.1 requires
// for recoverable decode errors on live sources: min 100ms, max 5s, reset
// on success, give up after 30 consecutive failures.
type backoff struct {
	min, max   time.Duration
	maxRetries int
	attempt    int
}

func newBackoff() *backoff {
	return &backoff{
		min:        100 * time.Millisecond,
		max:        5 * time.Second,
		maxRetries: 30,
	}
}

// next records one more consecutive failure and returns the delay before
// the next retry, or false once maxRetries consecutive failures have
// exhausted the budget.
func (b *backoff) next() (time.Duration, bool) {
	b.attempt++
	if b.attempt >= b.maxRetries {
		return 0, false
	}
	delay := b.min * time.Duration(1<<uint(b.attempt-1))
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	return delay, true
}

// reset clears the attempt counter after a successful decode.
func (b *backoff) reset() {
	b.attempt = 0
}
