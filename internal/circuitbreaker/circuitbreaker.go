package circuitbreaker

import (
	"sync"
	"time"
)

// Breaker is a failure-counting guard around an unreliable dependency.
// There is no distinct half-open state: once ResetTimeout has elapsed
// since the last recorded failure the counter is cleared and the next
// call proceeds as a probe.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time

	threshold    int
	resetTimeout time.Duration
	component    string
	now          func() time.Time
}

// Config holds breaker parameters.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Component        string
}

// New creates a Breaker with the given config.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		component:    cfg.Component,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. The breaker rejects only
// while the failure count has reached the threshold and the reset
// timeout has not yet elapsed since the last failure. Once the timeout
// elapses the counter is cleared and the call goes through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.failures = 0
		return true
	}
	return false
}

// RecordSuccess clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure increments the failure count and stamps the failure time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
}

// Snapshot is a point-in-time view of the breaker for health reporting
// and metrics.
type Snapshot struct {
	Component   string
	Failures    int
	LastFailure time.Time
	Open        bool
}

// Snapshot returns the current counters without mutating them.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Component:   b.component,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		Open:        b.failures >= b.threshold && b.now().Sub(b.lastFailure) < b.resetTimeout,
	}
}
