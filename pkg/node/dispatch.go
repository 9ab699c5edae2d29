// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/storage"
)

// Store is the persistence sink
type Store interface {
	// Append must not retain f after returning
	Append(f *frame.Frame) error
	CloseSession() error
}

// Dispatcher is the single consumer of the queue. Every dequeued frame is
// persisted, echoed in debug mode, and released exactly once.
type Dispatcher struct {
	p       *Pipeline
	store   Store
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. store may be nil.
func NewDispatcher(p *Pipeline, store Store, dequeueTimeout time.Duration) *Dispatcher {
	if dequeueTimeout <= 0 {
		dequeueTimeout = time.Millisecond
	}
	return &Dispatcher{p: p, store: store, timeout: dequeueTimeout}
}

// Run dispatches until ctx is done, then drains the queue and closes the
// logging session
func (d *Dispatcher) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		f, err := d.p.Queue.Dequeue(d.timeout)
		if err != nil {
			// idle
			continue
		}
		d.Dispatch(f)
	}

	n := d.Drain()
	if n > 0 {
		log.Printf("Drained %d frames at shutdown", n)
	}
	if d.store != nil {
		if err := d.store.CloseSession(); err != nil {
			log.Printf("Failed to close log session: %v", err)
		}
	}
	return nil
}

// Drain dispatches whatever is still queued without waiting
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		f, err := d.p.Queue.Dequeue(0)
		if err != nil {
			return n
		}
		d.Dispatch(f)
		n++
	}
}

// Dispatch routes f to the sinks and releases it. A failing sink does not
// stop the other one and never leaks the frame.
func (d *Dispatcher) Dispatch(f *frame.Frame) {
	defer d.release(f)
	d.p.Stats.Dispatched.Add(1)

	if d.store != nil {
		if err := d.persist(f); err != nil && !errors.Is(err, storage.ErrNoSession) {
			d.p.Stats.StorageErrors.Add(1)
			d.p.Console.Error("storage: %v", err)
		}
	}

	if d.p.Mode.Debug.Load() {
		d.p.Console.Data(f.Kind(), f.String())
	}
}

func (d *Dispatcher) persist(f *frame.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return d.store.Append(f)
}

func (d *Dispatcher) release(f *frame.Frame) {
	if err := f.Release(); err != nil {
		d.p.Stats.DoubleReleases.Add(1)
		log.Printf("Release %s frame: %v", f.Kind(), err)
	}
}
