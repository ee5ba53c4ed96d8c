// Copyright 2025 James Ross
//
// Package breaker implements a sliding-window circuit breaker, one instance
// per external dependency the worker pool calls out to: the transcoder
// binary, the transcription provider, and each publish target (TikTok,
// YouTube, ...). A Registry keys instances by that dependency's name so a
// flaky transcriber doesn't trip the breaker guarding render jobs, and a
// rate-limited TikTok account doesn't stall YouTube publishes.
package breaker

import (
	"sync"
	"time"
)

// State is a CircuitBreaker's position in the Closed/HalfOpen/Open cycle.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

type result struct {
	t  time.Time
	ok bool
}

// CircuitBreaker tracks the pass/fail outcomes of calls to one external
// dependency over a sliding window and trips Open once the failure rate
// within that window crosses failureThresh. After cooldown it allows a
// single HalfOpen probe; the probe's outcome either closes the breaker or
// reopens it for another cooldown.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	window           time.Duration
	cooldown         time.Duration
	failureThresh    float64
	minSamples       int
	lastTransition   time.Time
	results          []result
	halfOpenInFlight bool
}

// New builds a CircuitBreaker for a single dependency. window bounds how far
// back Record looks when computing the failure rate; cooldown is how long
// Open is held before a probe is allowed; minSamples is the sample floor
// below which a breaker never trips regardless of failureThresh.
func New(window time.Duration, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
	return &CircuitBreaker{state: Closed, window: window, cooldown: cooldown, failureThresh: failureThresh, minSamples: minSamples, lastTransition: time.Now()}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether the caller may dispatch a call to the guarded
// dependency right now. Every true return that isn't Closed-state must be
// paired with exactly one later Record call, since HalfOpen grants a single
// in-flight probe and won't grant another until that probe resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastTransition) >= cb.cooldown {
			cb.state = HalfOpen
			cb.lastTransition = time.Now()
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of a call that a prior Allow() admitted.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-cb.window)
	filtered := cb.results[:0]
	for _, r := range cb.results {
		if r.t.After(cutoff) {
			filtered = append(filtered, r)
		}
	}
	cb.results = append(filtered, result{t: now, ok: ok})

	total := len(cb.results)
	if total < cb.minSamples {
		if cb.state == HalfOpen {
			if ok {
				cb.state = Closed
				cb.lastTransition = now
			} else {
				cb.state = Open
				cb.lastTransition = now
			}
		}
		return
	}
	fails := 0
	for _, r := range cb.results {
		if !r.ok {
			fails++
		}
	}
	rate := float64(fails) / float64(total)
	switch cb.state {
	case Closed:
		if rate >= cb.failureThresh {
			cb.state = Open
			cb.lastTransition = now
		}
	case HalfOpen:
		if ok {
			cb.state = Closed
		} else {
			cb.state = Open
		}
		cb.halfOpenInFlight = false
		cb.lastTransition = now
	case Open:
		// handled in Allow()
	}
}

// Registry lazily creates and holds one CircuitBreaker per dependency key
// ("transcoder", "transcriber", "publish:tiktok", "publish:youtube", ...),
// all sharing the same window/cooldown/threshold configuration. A process
// has exactly one Registry; dependencies never share a breaker instance.
type Registry struct {
	mu            sync.Mutex
	window        time.Duration
	cooldown      time.Duration
	failureThresh float64
	minSamples    int
	breakers      map[string]*CircuitBreaker
}

// NewRegistry builds an empty Registry. Breakers are created on first use
// of For, not eagerly, so a deployment that never enables a publisher never
// pays for its breaker's bookkeeping.
func NewRegistry(window, cooldown time.Duration, failureThresh float64, minSamples int) *Registry {
	return &Registry{
		window:        window,
		cooldown:      cooldown,
		failureThresh: failureThresh,
		minSamples:    minSamples,
		breakers:      make(map[string]*CircuitBreaker),
	}
}

// For returns the CircuitBreaker for key, creating it on first use.
func (r *Registry) For(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[key]
	if !ok {
		cb = New(r.window, r.cooldown, r.failureThresh, r.minSamples)
		r.breakers[key] = cb
	}
	return cb
}

// Snapshot returns the current State of every breaker created so far, keyed
// by dependency name, for metrics reporting and cross-process publishing.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	cbs := make([]*CircuitBreaker, 0, len(r.breakers))
	for k, cb := range r.breakers {
		keys = append(keys, k)
		cbs = append(cbs, cb)
	}
	r.mu.Unlock()

	out := make(map[string]State, len(keys))
	for i, k := range keys {
		out[k] = cbs[i].State()
	}
	return out
}
