// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node runs the capture pipeline: the acquisition loop and K-Line
// poller produce frames, the bounded queue orders them, and the
// dispatcher hands each one to the sinks and releases it.
package node

import (
	"time"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/queue"
)

// Pipeline is the state shared by the producers, the dispatcher and the
// command processor
type Pipeline struct {
	Queue   *queue.Queue
	Pool    *frame.Pool
	Mode    *Mode
	Console *console.Console
	Stats   *Statistics
}

// NewPipeline creates a pipeline with a fresh queue, pool and mode
func NewPipeline(capacity int, con *console.Console) *Pipeline {
	return &Pipeline{
		Queue:   queue.New(capacity),
		Pool:    frame.NewPool(),
		Mode:    &Mode{},
		Console: con,
		Stats:   NewStatistics(),
	}
}

// Submit enqueues f. When the queue stays full for timeout the frame is
// released here, the drop is counted against its bus and, in debug mode,
// reported on the console.
func (p *Pipeline) Submit(f *frame.Frame, timeout time.Duration) bool {
	kind := f.Kind()
	if err := p.Queue.Enqueue(f, timeout); err != nil {
		_ = f.Release()
		p.Stats.Bus(kind).Dropped.Add(1)
		if p.Mode.Debug.Load() {
			p.Console.TryError("queue full, dropped %s frame", kind)
		}
		return false
	}
	p.Stats.Bus(kind).Frames.Add(1)
	return true
}
