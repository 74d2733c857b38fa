package webhooks

import (
	"sync"
	"time"
)

// BreakerState is the state of a tenant's circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, attempts allowed
	BreakerOpen                         // failing, attempts blocked until cooldown
	BreakerHalfOpen                     // probing after cooldown
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker isolates a single tenant's outbound deliveries.
//
// From closed, consecutive failures up to the threshold open the circuit.
// From half-open, a single failure reopens it immediately; this stricter
// recovery policy is intentional and must not be collapsed into the
// threshold-counted path.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
}

// NewBreaker creates a closed breaker. Non-positive settings use the
// defaults (threshold 3, cooldown 30s).
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{state: BreakerClosed, threshold: threshold, cooldown: cooldown}
}

// Admit reports whether an attempt may proceed. The open→half-open
// transition happens lazily here once the cooldown has elapsed, resetting
// the failure count.
func (b *Breaker) Admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Now().Before(b.openUntil) {
			return false
		}
		b.state = BreakerHalfOpen
		b.failures = 0
		return true
	default:
		// closed and half-open both admit without further restriction
		return true
	}
}

// Record drives state transitions from a completed attempt.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	if b.state == BreakerHalfOpen {
		// single failure while probing reopens immediately
		b.state = BreakerOpen
		b.openUntil = time.Now().Add(b.cooldown)
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openUntil = time.Now().Add(b.cooldown)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry owns one breaker per tenant, created lazily.
type BreakerRegistry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewBreakerRegistry creates a registry handing out breakers with the given
// settings.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{breakers: map[string]*Breaker{}, threshold: threshold, cooldown: cooldown}
}

// Get returns the tenant's breaker, creating one if needed.
func (r *BreakerRegistry) Get(tenantID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[tenantID]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[tenantID]; ok {
		return b
	}
	b = NewBreaker(r.threshold, r.cooldown)
	r.breakers[tenantID] = b
	return b
}

// States returns the state of every known breaker keyed by tenant.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State().String()
	}
	return out
}
