// Package backoff spaces out requests to a remote service after failures.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff tracks exponential backoff per key (an engine, host or model).
type Backoff struct {
	mu        sync.RWMutex
	keys      map[string]*state
	baseDelay time.Duration
	maxDelay  time.Duration
}

type state struct {
	failures    int
	nextAllowed time.Time
}

// New creates a backoff manager. The first failure delays the next request
// by baseDelay, each further one doubles it up to maxDelay.
func New(baseDelay, maxDelay time.Duration) *Backoff {
	return &Backoff{
		keys:      make(map[string]*state),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until key may be used again or ctx is done.
func (b *Backoff) Wait(ctx context.Context, key string) error {
	b.mu.RLock()
	st, ok := b.keys[key]
	var until time.Time
	if ok {
		until = st.nextAllowed
	}
	b.mu.RUnlock()

	d := time.Until(until)
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Failure records a failed request and returns the resulting delay.
func (b *Backoff) Failure(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.keys[key]
	if !ok {
		st = &state{}
		b.keys[key] = st
	}
	st.failures++
	delay := b.delay(st.failures)
	st.nextAllowed = time.Now().Add(delay)
	return delay
}

// Success records a successful request. Recovery is gradual: each success
// removes one failure.
func (b *Backoff) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.keys[key]
	if !ok {
		return
	}
	if st.failures > 0 {
		st.failures--
	}
	if st.failures == 0 {
		delete(b.keys, key)
	}
}

// State returns the failure count and the earliest time key may be used.
func (b *Backoff) State(key string) (failures int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if st, ok := b.keys[key]; ok {
		return st.failures, st.nextAllowed
	}
	return 0, time.Time{}
}

// delay is baseDelay * 2^(failures-1), capped, plus up to 10% jitter.
func (b *Backoff) delay(failures int) time.Duration {
	d := time.Duration(float64(b.baseDelay) * math.Pow(2, float64(failures-1)))
	if d > b.maxDelay || d <= 0 {
		d = b.maxDelay
	}
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}
