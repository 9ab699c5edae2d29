// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// BusStats counts one bus's traffic
type BusStats struct {
	Frames    atomic.Uint64 // enqueued
	Dropped   atomic.Uint64 // refused by a full queue
	Malformed atomic.Uint64 // framing or construction errors
	Errors    atomic.Uint64 // collaborator errors
}

func (b *BusStats) reset() {
	b.Frames.Store(0)
	b.Dropped.Store(0)
	b.Malformed.Store(0)
	b.Errors.Store(0)
}

// Statistics tracks pipeline counters. All fields are safe for concurrent
// use.
type Statistics struct {
	start atomic.Int64

	CAN   BusStats
	LIN   BusStats
	KLine BusStats

	Dispatched     atomic.Uint64
	StorageErrors  atomic.Uint64
	DoubleReleases atomic.Uint64
	ProbesSent     atomic.Uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.start.Store(time.Now().UnixNano())
	return s
}

// Bus returns the counters for kind
func (s *Statistics) Bus(k frame.Kind) *BusStats {
	switch k {
	case frame.KindCAN:
		return &s.CAN
	case frame.KindLIN:
		return &s.LIN
	default:
		return &s.KLine
	}
}

// Elapsed returns the time since creation or the last Reset
func (s *Statistics) Elapsed() time.Duration {
	return time.Since(time.Unix(0, s.start.Load()))
}

// Lines renders the statistics block, one line per entry
func (s *Statistics) Lines() []string {
	elapsed := s.Elapsed().Seconds()
	rate := func(n uint64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	lines := []string{fmt.Sprintf("=== Statistics (%.0f seconds) ===", elapsed)}
	for _, k := range []frame.Kind{frame.KindCAN, frame.KindLIN, frame.KindKLine} {
		b := s.Bus(k)
		frames := b.Frames.Load()
		lines = append(lines, fmt.Sprintf("%-6s frames %8d (%.1f/s) dropped %d malformed %d errors %d",
			k, frames, rate(frames), b.Dropped.Load(), b.Malformed.Load(), b.Errors.Load()))
	}
	lines = append(lines, fmt.Sprintf("dispatched %d storage errors %d", s.Dispatched.Load(), s.StorageErrors.Load()))
	if n := s.DoubleReleases.Load(); n > 0 {
		lines = append(lines, fmt.Sprintf("double releases %d", n))
	}
	if n := s.ProbesSent.Load(); n > 0 {
		lines = append(lines, fmt.Sprintf("self-test probes %d", n))
	}
	return lines
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return strings.Join(s.Lines(), "\n") + "\n"
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.start.Store(time.Now().UnixNano())
	s.CAN.reset()
	s.LIN.reset()
	s.KLine.reset()
	s.Dispatched.Store(0)
	s.StorageErrors.Store(0)
	s.DoubleReleases.Store(0)
	s.ProbesSent.Store(0)
}
