// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package queue provides the unbounded FIFO that hands buffers from capture
// callbacks to the processing loop.
package queue

import "sync"

// FIFO is an unbounded, goroutine-safe first-in first-out queue. Producers
// never block. Memory grows while the consumer falls behind; the pipeline's
// frame skipping is what keeps it bounded in practice.
type FIFO[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// New returns an empty FIFO.
func New[T any]() *FIFO[T] {
	q := &FIFO[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add appends v and wakes one waiting consumer. Adds after Close are dropped.
func (q *FIFO[T]) Add(v T) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, v)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Remove blocks until an item is available and returns it. It returns false
// once the queue is closed and drained.
func (q *FIFO[T]) Remove() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// DropUpTo discards at most n items from the head without blocking and
// returns how many were discarded.
func (q *FIFO[T]) DropUpTo(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(max(n, 0), len(q.items))
	var zero T
	for k := 0; k < n; k++ {
		q.items[k] = zero
	}
	q.items = q.items[n:]
	return n
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked consumer. Items already queued can still be
// removed.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
