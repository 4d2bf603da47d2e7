package http

import "sync/atomic"

// Readiness is the serving flag behind the ready endpoint. It starts
// not-ready, flips ready once the listener is up, and flips back when
// shutdown begins so load balancers drain this instance first.
type Readiness struct {
	ready atomic.Bool
}

// SetReady flips the serving flag.
func (r *Readiness) SetReady(v bool) {
	r.ready.Store(v)
}

// Ready reports whether the instance should receive traffic.
func (r *Readiness) Ready() bool {
	return r.ready.Load()
}
