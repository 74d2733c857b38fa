package webhooks

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter, one window per tenant. Bursts at
// window boundaries are accepted; this is a deliberate simplicity trade-off
// over sliding windows.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	wins   map[string]*rateWindow
}

type rateWindow struct {
	startedAt time.Time
	count     int
}

// NewRateLimiter creates a limiter admitting limit calls per window per tenant.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window, wins: map[string]*rateWindow{}}
}

// Admit reports whether a call for tenantID is allowed within the current
// window, counting it if so. The rejected call is still counted against the
// window.
func (l *RateLimiter) Admit(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	w := l.wins[tenantID]
	if w == nil || now.Sub(w.startedAt) > l.window {
		l.wins[tenantID] = &rateWindow{startedAt: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}

// Remaining returns how many admissions are left in the tenant's current window.
func (l *RateLimiter) Remaining(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.wins[tenantID]
	if w == nil || time.Since(w.startedAt) > l.window {
		return l.limit
	}
	if w.count >= l.limit {
		return 0
	}
	return l.limit - w.count
}
