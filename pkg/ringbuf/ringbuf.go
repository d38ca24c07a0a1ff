// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ringbuf provides a fixed-capacity FIFO history buffer.
//
// Every bounded history in the self-healing service (metrics, issues,
// analyses, fix records) is a Ring. Appends past capacity evict the
// oldest element first, so memory use is constant regardless of uptime.
//
// # Thread Safety
//
// Ring is safe for concurrent use. The intended ownership model is a
// single writer with any number of readers; the mutex enforces that
// model rather than replacing it.
package ringbuf

import "sync"

// Ring is a fixed-capacity FIFO buffer of T.
//
// The zero value is not usable; construct with New.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	cap   int
}

// New creates a Ring with the given capacity.
//
// Panics if capacity is not positive: a zero-capacity history is a
// configuration bug, not a runtime condition.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{
		items: make([]T, 0, capacity),
		cap:   capacity,
	}
}

// Append adds an item, evicting the oldest item when full.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = item
		return
	}
	r.items = append(r.items, item)
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Cap returns the configured capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Items returns a copy of all items, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns a copy of up to n most recent items, oldest first.
//
// If n exceeds the current length the whole buffer is returned.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(r.items) - n
	if start < 0 {
		start = 0
	}
	out := make([]T, len(r.items)-start)
	copy(out, r.items[start:])
	return out
}

// Clear removes all items while keeping the capacity.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.items[:0]
}
