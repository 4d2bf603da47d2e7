package circuitbreaker

import (
	"testing"
	"time"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(Config{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		Component:        "external_source",
	})
	b.now = clock.now
	return b, clock
}

func TestBreakerAllowsUntilThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker rejected after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker allowed call after reaching the failure threshold")
	}
}

func TestBreakerAutoResetAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("breaker should be open immediately after tripping")
	}

	clock.advance(59 * time.Second)
	if b.Allow() {
		t.Fatal("breaker should still be open before the reset timeout")
	}

	clock.advance(time.Second)
	if !b.Allow() {
		t.Fatal("breaker should allow a probe once the reset timeout elapses")
	}

	// Allow cleared the counter, so subsequent calls pass too.
	if !b.Allow() {
		t.Fatal("counter should have been cleared by the auto-reset")
	}
	if got := b.Snapshot().Failures; got != 0 {
		t.Errorf("failures after auto-reset = %d, want 0", got)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()

	if got := b.Snapshot().Failures; got != 0 {
		t.Fatalf("failures after success = %d, want 0", got)
	}

	// A single new failure must not trip the freshly reset breaker.
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("breaker tripped on first failure after reset")
	}
}

func TestBreakerSnapshot(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	snap := b.Snapshot()
	if snap.Open || snap.Failures != 0 {
		t.Fatalf("fresh breaker snapshot = %+v", snap)
	}
	if snap.Component != "external_source" {
		t.Errorf("component = %q", snap.Component)
	}

	b.RecordFailure()
	b.RecordFailure()
	snap = b.Snapshot()
	if !snap.Open {
		t.Fatal("snapshot should report open after threshold failures")
	}
	if snap.Failures != 2 {
		t.Errorf("failures = %d, want 2", snap.Failures)
	}
	if !snap.LastFailure.Equal(clock.t) {
		t.Errorf("lastFailure = %v, want %v", snap.LastFailure, clock.t)
	}

	// Snapshot never mutates: the breaker stays open until the timeout.
	clock.advance(time.Minute)
	snap = b.Snapshot()
	if snap.Open {
		t.Fatal("snapshot should report closed once the reset timeout elapsed")
	}
	if snap.Failures != 2 {
		t.Errorf("snapshot must not clear the counter, failures = %d", snap.Failures)
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New(Config{Component: "x"})
	if b.threshold != 5 {
		t.Errorf("default threshold = %d, want 5", b.threshold)
	}
	if b.resetTimeout != 60*time.Second {
		t.Errorf("default reset timeout = %v, want 60s", b.resetTimeout)
	}
}
