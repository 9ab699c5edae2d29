// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package queue implements the bounded transfer queue that moves frame
// ownership from the bus producers to the single consumer.
//
// Only *frame.Frame handles cross the queue; payload bytes are never
// copied. When the queue stays full for the whole enqueue timeout the
// newest frame is refused with ErrQueueFull and ownership stays with the
// caller, who must release it.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// DefaultCapacity matches the node's reception queue depth
const DefaultCapacity = 1000

var (
	ErrQueueFull  = errors.New("queue full")
	ErrQueueEmpty = errors.New("queue empty")
	ErrNilFrame   = errors.New("nil frame")
)

// Queue is a fixed-capacity FIFO of frame ownership handles. It is safe for
// any number of producers; frames are delivered in enqueue order.
type Queue struct {
	ch chan *frame.Frame

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64
	reported atomic.Uint64
}

// New creates a queue holding at most capacity frames. A capacity below one
// uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *frame.Frame, capacity)}
}

// Enqueue hands f to the queue, waiting at most timeout for space. On
// ErrQueueFull the caller still owns f.
func (q *Queue) Enqueue(f *frame.Frame, timeout time.Duration) error {
	if f == nil {
		return ErrNilFrame
	}

	// Fast path, no timer
	select {
	case q.ch <- f:
		q.enqueued.Add(1)
		return nil
	default:
	}

	if timeout <= 0 {
		q.dropped.Add(1)
		return ErrQueueFull
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- f:
		q.enqueued.Add(1)
		return nil
	case <-timer.C:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dequeue returns the oldest frame, waiting at most timeout. Ownership of
// the returned frame passes to the caller.
func (q *Queue) Dequeue(timeout time.Duration) (*frame.Frame, error) {
	select {
	case f := <-q.ch:
		q.dequeued.Add(1)
		return f, nil
	default:
	}

	if timeout <= 0 {
		return nil, ErrQueueEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		q.dequeued.Add(1)
		return f, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	}
}

// DequeueContext blocks until a frame is available or ctx is done
func (q *Queue) DequeueContext(ctx context.Context) (*frame.Frame, error) {
	select {
	case f := <-q.ch:
		q.dequeued.Add(1)
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of frames waiting
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Stats is a snapshot of queue counters
type Stats struct {
	Capacity int
	Length   int
	Enqueued uint64
	Dequeued uint64
	Dropped  uint64
}

// Stats returns the current counters
func (q *Queue) Stats() Stats {
	return Stats{
		Capacity: cap(q.ch),
		Length:   len(q.ch),
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Dropped:  q.dropped.Load(),
	}
}

// Dropped returns the total number of refused frames
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// TakeDrops returns the drops since the previous TakeDrops call
func (q *Queue) TakeDrops() uint64 {
	for {
		total := q.dropped.Load()
		last := q.reported.Load()
		if q.reported.CompareAndSwap(last, total) {
			return total - last
		}
	}
}
