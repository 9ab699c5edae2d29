// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPool backs the package-level constructors
var DefaultPool = NewPool()

// Pool allocates frames and accounts for their release. Buffers up to
// MaxCANData bytes are recycled.
type Pool struct {
	buffers sync.Pool

	allocated      atomic.Uint64
	released       atomic.Uint64
	doubleReleases atomic.Uint64
}

// NewPool creates an empty frame pool
func NewPool() *Pool {
	p := &Pool{}
	p.buffers.New = func() interface{} {
		b := make([]byte, 0, MaxCANData)
		return &b
	}
	return p
}

// PoolStats is a snapshot of a pool's accounting
type PoolStats struct {
	Allocated      uint64
	Released       uint64
	DoubleReleases uint64
}

// Stats returns the pool's counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Allocated:      p.allocated.Load(),
		Released:       p.released.Load(),
		DoubleReleases: p.doubleReleases.Load(),
	}
}

// Outstanding returns the number of frames allocated but not yet released
func (p *Pool) Outstanding() int64 {
	return int64(p.allocated.Load()) - int64(p.released.Load())
}

// NewCAN validates msg and copies it into a new CAN frame
func (p *Pool) NewCAN(msg CANMessage) (*Frame, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	f := p.alloc(KindCAN, msg.Data)
	f.id = msg.ID
	f.dlc = msg.DLC
	f.flags = msg.Flags()
	return f, nil
}

// NewLIN copies data into a new LIN frame
func (p *Pool) NewLIN(data []byte) (*Frame, error) {
	if len(data) == 0 || len(data) > MaxLINData {
		return nil, fmt.Errorf("%w: lin frame of %d bytes (1..%d)", ErrMalformedFrame, len(data), MaxLINData)
	}
	return p.alloc(KindLIN, data), nil
}

// NewKLine copies data into a new K-Line frame
func (p *Pool) NewKLine(data []byte) (*Frame, error) {
	if len(data) == 0 || len(data) > MaxKLineData {
		return nil, fmt.Errorf("%w: k-line frame of %d bytes (1..%d)", ErrMalformedFrame, len(data), MaxKLineData)
	}
	return p.alloc(KindKLine, data), nil
}

func (p *Pool) alloc(kind Kind, data []byte) *Frame {
	var buf []byte
	if len(data) <= MaxCANData {
		bp := p.buffers.Get().(*[]byte)
		buf = (*bp)[:len(data)]
	} else {
		buf = make([]byte, len(data))
	}
	copy(buf, data)
	p.allocated.Add(1)
	return &Frame{
		kind:      kind,
		timestamp: time.Now(),
		data:      buf,
		pool:      p,
	}
}

func (p *Pool) put(buf []byte) {
	p.released.Add(1)
	if cap(buf) == MaxCANData {
		buf = buf[:0]
		p.buffers.Put(&buf)
	}
}
