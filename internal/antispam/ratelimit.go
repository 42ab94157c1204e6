package antispam

import (
	"math"
	"sync"
	"time"
)

// RateLimiter counts messages per sender inside a sliding time window
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter allows at most max messages per sender within window
func NewRateLimiter(max int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	// a limit below one would deny every message
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		max:     max,
		window:  window,
		now:     now,
		windows: make(map[string][]time.Time),
	}
}

// Allow records a message from sender and reports whether it is within the limit
func (r *RateLimiter) Allow(senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	calls := r.prune(senderID, now)
	if len(calls) >= r.max {
		return false
	}
	r.windows[senderID] = append(calls, now)
	return true
}

// RemainingBlockSeconds returns how long sender must wait before the next message is allowed
func (r *RateLimiter) RemainingBlockSeconds(senderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	calls := r.prune(senderID, now)
	if len(calls) < r.max {
		return 0
	}
	// the slot frees up when the oldest call that keeps the sender at the limit expires
	oldest := calls[len(calls)-r.max]
	wait := oldest.Add(r.window).Sub(now)
	return int(math.Ceil(wait.Seconds()))
}

// Sweep forgets senders with no calls inside the window
func (r *RateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for sender := range r.windows {
		if len(r.prune(sender, now)) == 0 {
			delete(r.windows, sender)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of senders with a live window
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// prune drops expired timestamps; callers hold r.mu
func (r *RateLimiter) prune(senderID string, now time.Time) []time.Time {
	calls := r.windows[senderID]
	i := 0
	for i < len(calls) && now.Sub(calls[i]) >= r.window {
		i++
	}
	if i > 0 {
		calls = append(calls[:0], calls[i:]...)
		r.windows[senderID] = calls
	}
	return calls
}
