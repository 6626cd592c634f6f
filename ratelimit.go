package guildpost

import (
	"fmt"
	"sync"
	"time"
)

// Sliding-window quotas per (group, user), most restrictive first.
const (
	RateLimitPerMinute = 10
	RateLimitPerHour   = 100
	RateLimitPerDay    = 500

	// DuplicateCooldown suppresses re-firing an identical
	// (event type, event data) pair in quick succession, which is how
	// two racing triggers on one peer get collapsed into one send.
	DuplicateCooldown = 5000 * time.Millisecond

	rateWindowDay = 24 * time.Hour
)

// RateDecision is the outcome of a limit check.
type RateDecision struct {
	Allowed bool
	Reason  string // human-readable, empty when allowed
}

func allowDecision() RateDecision {
	return RateDecision{Allowed: true}
}

func denyDecision(format string, args ...interface{}) RateDecision {
	return RateDecision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// rateWindow tracks one (group, user) key: raw call timestamps plus the
// last-fire time per duplicate key.
type rateWindow struct {
	calls     []time.Time
	lastFired map[string]time.Time
}

// RateLimiter bounds the rate of an external side effect per
// (group, user) with minute/hour/day sliding windows plus a duplicate
// cooldown. Instance-owned state behind one lock; never a process-wide
// singleton.
type RateLimiter struct {
	windows map[string]*rateWindow
	metrics *Metrics
	mu      sync.Mutex

	now func() time.Time // swapped out by tests
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// SetMetrics wires operational counters. Optional.
func (rl *RateLimiter) SetMetrics(m *Metrics) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.metrics = m
}

func rateKey(group, user string) string {
	return group + "|" + user
}

// CheckLimit decides whether (group, user) may fire a side effect now,
// and records the call if so. The whole check-and-record is one
// critical section, so two goroutines racing on the same key can't both
// slip under a threshold.
func (rl *RateLimiter) CheckLimit(group, user, eventType, eventData string) RateDecision {
	if group == "" || user == "" {
		return denyDecision("missing group or user identity")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := rateKey(group, user)
	w := rl.windows[key]
	if w == nil {
		w = &rateWindow{lastFired: make(map[string]time.Time)}
		rl.windows[key] = w
	}

	// Lazy sweep: anything older than a day can never matter again.
	cutoff := now.Add(-rateWindowDay)
	kept := w.calls[:0]
	for _, ts := range w.calls {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.calls = kept

	countSince := func(d time.Duration) int {
		edge := now.Add(-d)
		n := 0
		for _, ts := range w.calls {
			if ts.After(edge) {
				n++
			}
		}
		return n
	}

	if n := countSince(time.Minute); n >= RateLimitPerMinute {
		rl.metrics.incRateLimited("minute")
		return denyDecision("rate limit exceeded: %d calls in the last minute (max %d)", n, RateLimitPerMinute)
	}
	if n := countSince(time.Hour); n >= RateLimitPerHour {
		rl.metrics.incRateLimited("hour")
		return denyDecision("rate limit exceeded: %d calls in the last hour (max %d)", n, RateLimitPerHour)
	}
	if n := countSince(rateWindowDay); n >= RateLimitPerDay {
		rl.metrics.incRateLimited("day")
		return denyDecision("rate limit exceeded: %d calls in the last day (max %d)", n, RateLimitPerDay)
	}

	if eventType != "" && eventData != "" {
		dupKey := eventType + ":" + eventData
		if last, ok := w.lastFired[dupKey]; ok {
			if since := now.Sub(last); since < DuplicateCooldown {
				remaining := DuplicateCooldown - since
				rl.metrics.incRateLimited("duplicate")
				return denyDecision("duplicate event suppressed: %s fired %dms ago (cooldown %dms remaining)",
					dupKey, since.Milliseconds(), remaining.Milliseconds())
			}
		}
		w.lastFired[dupKey] = now
	}

	w.calls = append(w.calls, now)
	return allowDecision()
}

// Cleanup evicts keys with no activity in the last day. Call it
// periodically; without it the key space grows with every (group, user)
// pair ever seen.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rateWindowDay)
	for key, w := range rl.windows {
		kept := w.calls[:0]
		for _, ts := range w.calls {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		w.calls = kept

		for dupKey, last := range w.lastFired {
			if !last.After(cutoff) {
				delete(w.lastFired, dupKey)
			}
		}

		if len(w.calls) == 0 && len(w.lastFired) == 0 {
			delete(rl.windows, key)
		}
	}
}

// TrackedKeys reports how many (group, user) pairs currently hold state.
func (rl *RateLimiter) TrackedKeys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}
