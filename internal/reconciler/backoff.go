package reconciler

import "time"

const (
	backoffBase = 2 * time.Second
	backoffMax  = 60 * time.Second
)

// Backoff returns the wait before retry attempt n (1-based): doubling from
// a 2s base, capped at 60s. Pure so the schedule is testable without timers.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return backoffMax
	}
	d := backoffBase << uint(attempt-1)
	if d > backoffMax || d <= 0 {
		return backoffMax
	}
	return d
}
