// Package ratelimit implements the per-process sliding-window rate limiter:
// counters keyed by (tenant, tool), one-minute window, per-tool default
// limits, advisory (no persistence). The Limiter keeps its counters in its
// own mutex-guarded map; there is no separate storage interface.
package ratelimit

import (
	"sync"
	"time"

	"github.com/aideny-kr/chatcore/internal/apperr"
)

// window is one minute
const window = time.Minute

// bucket tracks call timestamps for one (tenant, tool) pair within the
// current sliding window.
type bucket struct {
	calls []time.Time
}

// Limiter is a mutex-guarded map of sliding-window buckets. It is the single
// instance wired at startup and passed by reference — bans
// package-level singletons in test builds, so there is no package-level
// default Limiter here.
type Limiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	defaultLimit  int
	perToolLimits map[string]int
	now           func() time.Time
}

// New constructs a Limiter. defaultLimit applies to any tool without an
// entry in perToolLimits.
func New(defaultLimit int, perToolLimits map[string]int) *Limiter {
	return &Limiter{
		buckets:       make(map[string]*bucket),
		defaultLimit:  defaultLimit,
		perToolLimits: perToolLimits,
		now:           time.Now,
	}
}

func key(tenantID, tool string) string { return tenantID + "\x00" + tool }

func (l *Limiter) limitFor(tool string) int {
	if n, ok := l.perToolLimits[tool]; ok {
		return n
	}
	return l.defaultLimit
}

// Allow records one call attempt for (tenantID, tool) and reports whether it
// is within the configured limit for the current one-minute sliding window.
// The limit-th call in a window is allowed; the (limit+1)-th is denied.
func (l *Limiter) Allow(tenantID, tool string) (bool, error) {
	limit := l.limitFor(tool)
	if limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(tenantID, tool)
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{}
		l.buckets[k] = b
	}

	now := l.now()
	cutoff := now.Add(-window)
	b.calls = pruneBefore(b.calls, cutoff)

	if len(b.calls) >= limit {
		return false, apperr.New(apperr.QuotaExceeded, "rate limit exceeded for tool "+tool)
	}

	b.calls = append(b.calls, now)
	return true, nil
}

func pruneBefore(calls []time.Time, cutoff time.Time) []time.Time {
	kept := calls[:0]
	for _, c := range calls {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	return kept
}
