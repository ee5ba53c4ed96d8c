// Copyright 2025 James Ross
package breaker

import (
	"sync"
	"testing"
	"time"
)

// TestBreakerHalfOpenSingleProbeUnderLoad simulates a worker pool racing to
// probe a recovering transcoder after its breaker cools down: only one
// in-flight render job may hold the HalfOpen probe at a time.
func TestBreakerHalfOpenSingleProbeUnderLoad(t *testing.T) {
	cb := New(20*time.Millisecond, 50*time.Millisecond, 0.5, 2)
	if cb.State() != Closed {
		t.Fatal("expected closed")
	}
	cb.Record(false)
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected open after 2 failures")
	}

	time.Sleep(60 * time.Millisecond)

	const concurrency = 100
	if got := countAllowed(cb, concurrency); got != 1 {
		t.Fatalf("expected exactly 1 allowed probe, got %d", got)
	}

	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected open after failed probe, got %v", cb.State())
	}

	time.Sleep(60 * time.Millisecond)
	if got := countAllowed(cb, concurrency); got != 1 {
		t.Fatalf("expected exactly 1 allowed probe in second cycle, got %d", got)
	}

	cb.Record(true)
	if cb.State() != Closed {
		t.Fatalf("expected closed after successful probe, got %v", cb.State())
	}
}

// countAllowed fires n concurrent Allow() calls at cb and returns how many
// returned true.
func countAllowed(cb *CircuitBreaker, n int) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if cb.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return allowed
}

// TestRegistryForIsConcurrencySafe hammers Registry.For with many distinct
// dependency keys (as a worker pool with several kinds in flight would) and
// checks every goroutine asking for the same key converges on one instance.
func TestRegistryForIsConcurrencySafe(t *testing.T) {
	reg := NewRegistry(time.Second, time.Second, 0.5, 2)
	keys := []string{"transcoder", "transcriber", "publish:tiktok", "publish:youtube"}

	const perKey = 50
	results := make(chan *CircuitBreaker, perKey*len(keys))
	var wg sync.WaitGroup
	for _, k := range keys {
		for i := 0; i < perKey; i++ {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				results <- reg.For(key)
			}(k)
		}
	}
	wg.Wait()
	close(results)

	seen := make(map[string]*CircuitBreaker, len(keys))
	count := make(map[*CircuitBreaker]int)
	for cb := range results {
		count[cb]++
	}
	for _, k := range keys {
		seen[k] = reg.For(k)
	}
	if len(count) != len(keys) {
		t.Fatalf("expected %d distinct breaker instances, got %d", len(keys), len(count))
	}
	for k, cb := range seen {
		if count[cb] != perKey {
			t.Fatalf("key %s: expected %d references to its breaker, got %d", k, perKey, count[cb])
		}
	}
}
