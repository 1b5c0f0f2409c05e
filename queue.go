// queue.go: Bounded FIFO queue with overflow policy
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package styx

import (
	"fmt"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"
)

// OverflowPolicy decides what a full Queue does with a new item.
type OverflowPolicy uint8

const (
	// DropOldest evicts the oldest queued item to make room. Default.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop_newest"
	}
	return "drop_oldest"
}

// ParseOverflowPolicy accepts "drop_oldest"/"oldest" and "drop_newest"/"newest".
// The empty string yields DropOldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest", "oldest":
		return DropOldest, nil
	case "drop_newest", "newest":
		return DropNewest, nil
	}
	return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
}

// nextPow2 returns the next power of 2 greater than or equal to x
func nextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(x-1))
}

// Queue is a bounded FIFO guarded by a single mutex. Producers never block:
// when full, the overflow policy drops either the oldest entry or the new
// one. Exactly one consumer is expected to drain it at a time.
//
// Storage is a power-of-two ring so index wrapping is a mask, but the
// logical capacity is exactly what was requested.
type Queue[T any] struct {
	mu       sync.Mutex
	ring     []T
	mask     int
	head     int
	count    int
	capacity int
	policy   OverflowPolicy

	dropped atomic.Uint64
	notify  chan struct{}
}

// NewQueue creates a queue holding at most capacity items (minimum 1).
func NewQueue[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := int(nextPow2(uint64(capacity))) // #nosec G115 -- capacity checked positive above
	return &Queue[T]{
		ring:     make([]T, size),
		mask:     size - 1,
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends v. It reports false when an item was dropped to honour the
// capacity, either the evicted oldest entry or v itself.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	accepted := true
	if q.count == q.capacity {
		if q.policy == DropNewest {
			q.mu.Unlock()
			q.dropped.Add(1)
			return false
		}
		var zero T
		q.ring[q.head] = zero
		q.head = (q.head + 1) & q.mask
		q.count--
		q.dropped.Add(1)
		accepted = false
	}
	q.ring[(q.head+q.count)&q.mask] = v
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return accepted
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) & q.mask
	q.count--
	return v, true
}

// Drain moves up to limit items (all when limit <= 0) into dst and returns it.
func (q *Queue[T]) Drain(dst []T, limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.count
	if limit > 0 && limit < n {
		n = limit
	}
	var zero T
	for i := 0; i < n; i++ {
		dst = append(dst, q.ring[q.head])
		q.ring[q.head] = zero
		q.head = (q.head + 1) & q.mask
	}
	q.count -= n
	return dst
}

// Resize changes capacity and policy in place, keeping queued items in
// order. When shrinking below the current length the policy decides which
// end is discarded; discarded items count as dropped.
func (q *Queue[T]) Resize(capacity int, policy OverflowPolicy) {
	if capacity < 1 {
		capacity = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policy = policy
	if capacity == q.capacity {
		return
	}
	items := make([]T, 0, q.count)
	for i := 0; i < q.count; i++ {
		items = append(items, q.ring[(q.head+i)&q.mask])
	}
	if over := len(items) - capacity; over > 0 {
		if policy == DropNewest {
			items = items[:capacity]
		} else {
			items = items[over:]
		}
		q.dropped.Add(uint64(over)) // #nosec G115 -- over checked positive
	}
	size := int(nextPow2(uint64(capacity))) // #nosec G115 -- capacity checked positive above
	q.ring = make([]T, size)
	copy(q.ring, items)
	q.mask = size - 1
	q.head = 0
	q.count = len(items)
	q.capacity = capacity
}

// Clear discards every queued item without counting them as dropped.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	clear(q.ring)
	q.head, q.count = 0, 0
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the logical capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Dropped returns how many items the overflow policy discarded.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Notify is signalled (coalesced) after every Push.
func (q *Queue[T]) Notify() <-chan struct{} { return q.notify }
