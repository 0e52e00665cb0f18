package drive

import "time"

// Watchdog is the command-loss deadline. It is always armed: construction
// arms it, Kick re-arms it from the command time and Expire re-arms it for
// the next period after reporting expiry.
//
// Watchdog is not safe for concurrent use; the loop goroutine owns it.
type Watchdog struct {
	timeout  time.Duration
	deadline time.Time
}

// NewWatchdog arms a watchdog timeout after now.
func NewWatchdog(timeout time.Duration, now time.Time) *Watchdog {
	return &Watchdog{timeout: timeout, deadline: now.Add(timeout)}
}

// Kick cancels the pending deadline and arms a new one timeout after now.
func (w *Watchdog) Kick(now time.Time) {
	w.deadline = now.Add(w.timeout)
}

// Expire reports whether the deadline has passed at now. On expiry the next
// deadline is armed one timeout after now.
func (w *Watchdog) Expire(now time.Time) bool {
	if now.Before(w.deadline) {
		return false
	}
	w.deadline = now.Add(w.timeout)
	return true
}

// Deadline returns the pending deadline.
func (w *Watchdog) Deadline() time.Time {
	return w.deadline
}

// Until returns the time left before the deadline, never negative.
func (w *Watchdog) Until(now time.Time) time.Duration {
	if d := w.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Timeout returns the configured period.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}
