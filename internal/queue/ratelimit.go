package queue

import (
	"sync"
	"time"
)

// RateLimiter is sliding-window admission control: it keeps the timestamps
// of recent admissions and denies new ones once the window is full.
//
// Allow only observes; Record appends. The queue records on actual dispatch,
// not on enqueue.
type RateLimiter struct {
	mu         sync.Mutex
	maxEntries int
	window     time.Duration
	admissions []time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter admitting at most maxEntries per window.
func NewRateLimiter(maxEntries int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxEntries: maxEntries,
		window:     window,
		admissions: make([]time.Time, 0, maxEntries),
		now:        time.Now,
	}
}

// Allow reports whether another admission fits in the current window.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()

	return len(r.admissions) < r.maxEntries
}

// Record registers one admission at the current time.
func (r *RateLimiter) Record() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	r.admissions = append(r.admissions, r.now())
}

// Len returns the number of admissions still inside the window.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()

	return len(r.admissions)
}

// prune drops admissions older than now minus the window. Caller holds mu.
func (r *RateLimiter) prune() {
	cutoff := r.now().Add(-r.window)

	i := 0
	for i < len(r.admissions) && !r.admissions[i].After(cutoff) {
		i++
	}

	if i > 0 {
		r.admissions = append(r.admissions[:0], r.admissions[i:]...)
	}
}
