// Copyright (C) 2025 Kodiak ML (oss@kodiakml.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements a sliding-window request limiter keyed by
// client identity.
//
// The limiter tracks the timestamps of recent admissions per identity and
// rejects a call when the count inside the trailing window has reached the
// ceiling. The window slides continuously: entries age out exactly window
// seconds after they were admitted, so the guarantee is "never more than
// limit admissions within any trailing window-sized interval", not a
// fixed-bucket approximation.
//
// The read-prune-append cycle for an identity runs under a single lock.
// Without that, two concurrent calls could both observe count == limit-1
// and both be admitted, undercounting past the ceiling.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits or rejects calls per client identity over a sliding window.
//
// # Thread Safety
//
// Limiter is safe for concurrent use. All window state is guarded by a
// single mutex; Allow for the same identity is serialized relative to
// itself, which is what makes the count authoritative.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string][]time.Time

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter admitting at most limit calls per identity within
// any trailing window.
//
// # Inputs
//
//   - limit: admission ceiling (must be > 0)
//   - window: trailing interval over which admissions are counted
//
// # Examples
//
//	limiter := ratelimit.New(10, time.Minute)
//	if !limiter.Allow(clientIP) {
//	    // reject with 429
//	}
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an admission for identity and returns true, unless the
// identity has already been admitted limit times within the trailing
// window, in which case it returns false and leaves state unchanged.
//
// Entries older than the window are pruned lazily on each call; an
// identity that goes quiet costs nothing after its entries age out.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.windows[identity][:0]
	for _, t := range l.windows[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.windows[identity] = kept
		return false
	}

	l.windows[identity] = append(kept, now)
	return true
}

// Prune drops identities whose windows have fully aged out. Allow already
// prunes lazily per identity; Prune exists so a periodic sweep can bound
// the map size when many distinct identities appear once and never return.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for id, times := range l.windows {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}
