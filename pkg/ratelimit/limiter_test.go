// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{cur: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window)
	l.now = clock.Now
	return l, clock
}

func TestAllowElevenThRejected(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("10.0.0.1"), "call %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"), "11th call within the window must be rejected")
	assert.False(t, l.Allow("10.0.0.1"), "rejection must not consume budget")
}

func TestAllowWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("client"))
	}
	require.False(t, l.Allow("client"))

	// After the window elapses the old entries age out and admissions resume.
	clock.Advance(61 * time.Second)
	assert.True(t, l.Allow("client"))
}

func TestAllowPartialExpiry(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	require.True(t, l.Allow("c"))
	clock.Advance(30 * time.Second)
	require.True(t, l.Allow("c"))
	require.True(t, l.Allow("c"))
	require.False(t, l.Allow("c"))

	// First entry ages out at t+60s; the two at t+30s remain.
	clock.Advance(31 * time.Second)
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))
}

func TestAllowIdentitiesIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))

	assert.True(t, l.Allow("b"), "a's exhaustion must not affect b")
}

// Concurrent callers from the same identity must never be admitted past the
// ceiling: the read-prune-append cycle is atomic per call.
func TestAllowConcurrentNeverExceedsCeiling(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("same-client") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load())
}

func TestPruneDropsDeadIdentities(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	l.Allow("gone")
	l.Allow("stays")
	clock.Advance(30 * time.Second)
	l.Allow("stays")
	clock.Advance(45 * time.Second)

	// "gone" has no entries inside the window anymore; "stays" has one.
	removed := l.Prune()
	assert.Equal(t, 1, removed)
	assert.True(t, l.Allow("gone"), "pruned identity starts fresh")
}
