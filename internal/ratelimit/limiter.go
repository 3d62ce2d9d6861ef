// Package ratelimit implements a sliding-window request budget shared by
// all callers of an external API. The limiter knows nothing about what it
// limits; it is a pure counter bound to (maxRequests, window).
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Limiter tracks request timestamps inside a rolling window. All methods
// are safe for concurrent use; acquisition is atomic, so two simultaneous
// acquirers never both succeed on the last unit of budget.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time

	now func() time.Time
}

// New builds a limiter for maxRequests per window. Invalid configuration
// is a startup error, not something to limp along with.
func New(maxRequests int, window time.Duration) (*Limiter, error) {
	if maxRequests <= 0 {
		return nil, fmt.Errorf("ratelimit: maxRequests must be positive, got %d", maxRequests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	return &Limiter{
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}, nil
}

// TryAcquire reserves cost units of budget. When denied, retryAfter is the
// time until enough of the window frees up for the same request to succeed,
// so callers can schedule a retry instead of busy-polling.
func (l *Limiter) TryAcquire(cost int) (granted bool, retryAfter time.Duration) {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if cost > l.max {
		// Never grantable under this configuration.
		return false, l.window
	}

	if len(l.stamps)+cost <= l.max {
		for i := 0; i < cost; i++ {
			l.stamps = append(l.stamps, now)
		}
		return true, 0
	}

	// The request fits once len(stamps) drops to max-cost; the blocking
	// stamp is the last one that must expire to get there.
	blocking := l.stamps[len(l.stamps)+cost-l.max-1]
	retryAfter = blocking.Add(l.window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Usage reports the budget consumed in the current window and when the
// oldest in-window request expires. With an empty window, resetAt is now.
func (l *Limiter) Usage() (used, max int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	resetAt = now
	if len(l.stamps) > 0 {
		resetAt = l.stamps[0].Add(l.window)
	}
	return len(l.stamps), l.max, resetAt
}

// ApplyExternalOverride reconciles the local counter with a remaining
// budget reported by the API itself (other processes may share the key).
// The override only ever tightens the local view; a report of more
// remaining budget than tracked locally is ignored.
func (l *Limiter) ApplyExternalOverride(remaining int, resetAt time.Time) {
	if remaining < 0 {
		remaining = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	localRemaining := l.max - len(l.stamps)
	if remaining >= localRemaining {
		return
	}

	// Add synthetic stamps that expire at the reported reset time.
	stampAt := resetAt.Add(-l.window)
	if stampAt.After(now) {
		stampAt = now
	}
	for i := 0; i < localRemaining-remaining; i++ {
		l.stamps = append(l.stamps, stampAt)
	}
	sort.Slice(l.stamps, func(i, j int) bool { return l.stamps[i].Before(l.stamps[j]) })
}

// prune drops timestamps older than the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	l.stamps = keep
}
