package core

import "time"

// RateLimitWindow is the fixed-window counter kept per client.
type RateLimitWindow struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Expired reports whether the window has elapsed at now.
func (w *RateLimitWindow) Expired(now time.Time) bool {
	return w == nil || !now.Before(w.ResetAt)
}

// RateLimitDecision is the outcome of a single limiter check.
type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole seconds.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	seconds := (wait + time.Second - 1) / time.Second
	return seconds * time.Second
}
