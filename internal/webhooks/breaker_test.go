package webhooks

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.Record(false)
		if !b.Admit() {
			t.Fatalf("breaker should still admit after %d failures", i+1)
		}
	}
	b.Record(false)
	if b.State() != BreakerOpen {
		t.Fatalf("state after threshold: got %v, want open", b.State())
	}
	if b.Admit() {
		t.Fatalf("open breaker should not admit before cooldown")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if b.State() != BreakerClosed {
		t.Fatalf("non-consecutive failures should not open: got %v", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 30*time.Millisecond)
	b.Record(false)
	if b.Admit() {
		t.Fatalf("should be open")
	}
	time.Sleep(40 * time.Millisecond)
	if !b.Admit() {
		t.Fatalf("cooldown elapsed, probe should be admitted")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state after probe admit: got %v, want half-open", b.State())
	}
	// a single probe failure reopens immediately, no threshold counting
	b.Record(false)
	if b.State() != BreakerOpen {
		t.Fatalf("half-open failure should reopen: got %v", b.State())
	}
	if b.Admit() {
		t.Fatalf("reopened breaker should not admit")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.Record(false)
	time.Sleep(20 * time.Millisecond)
	if !b.Admit() {
		t.Fatalf("probe should be admitted")
	}
	b.Record(true)
	if b.State() != BreakerClosed {
		t.Fatalf("probe success should close: got %v", b.State())
	}
}

func TestBreakerRegistry(t *testing.T) {
	r := NewBreakerRegistry(1, time.Minute)
	if r.Get("t1") != r.Get("t1") {
		t.Fatalf("registry should return the same breaker per tenant")
	}
	r.Get("t1").Record(false)
	states := r.States()
	if states["t1"] != "open" {
		t.Fatalf("t1 state: got %q, want open", states["t1"])
	}
	if got := r.Get("t2").State(); got != BreakerClosed {
		t.Fatalf("t2 should have its own closed breaker, got %v", got)
	}
}
