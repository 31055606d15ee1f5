package dispatch

import "time"

const (
	retryBase       = time.Second
	retryFactor     = 2
	retryCap        = 30 * time.Second
	retryMaxAttempt = 3
)

// retryDelay returns the backoff delay before retry attempt n (1-indexed:
// the first retry is n=1), per spec.md's exponential backoff with a 30s
// cap.
func retryDelay(n int) time.Duration {
	d := retryBase
	for i := 1; i < n; i++ {
		d *= retryFactor
		if d > retryCap {
			return retryCap
		}
	}
	if d > retryCap {
		return retryCap
	}
	return d
}
