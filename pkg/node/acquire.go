// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"time"

	"github.com/Thermoquad/carinspector/pkg/bus"
	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/lin"
)

// AcquirerOptions tunes the acquisition loop
type AcquirerOptions struct {
	PollInterval   time.Duration
	EnqueueTimeout time.Duration
	// MaxCANPerPoll bounds how many CAN messages one poll drains
	MaxCANPerPoll int
	// LINReadSize bounds one LIN read
	LINReadSize int

	ProbeID       uint32
	ProbeInterval time.Duration
}

// DefaultAcquirerOptions returns the node defaults
func DefaultAcquirerOptions() AcquirerOptions {
	return AcquirerOptions{
		PollInterval:   time.Millisecond,
		EnqueueTimeout: time.Millisecond,
		MaxCANPerPoll:  64,
		LINReadSize:    64,
		ProbeID:        0x7FF,
		ProbeInterval:  time.Second,
	}
}

// Acquirer polls the CAN controller and the LIN transport and turns their
// traffic into frames. It never touches storage.
type Acquirer struct {
	p    *Pipeline
	opts AcquirerOptions

	can    bus.CAN
	lin    io.Reader
	linDec lin.Decoder

	loopback  bool
	probeSeq  uint64
	lastProbe time.Time
	linBuf    []byte
}

// NewAcquirer creates an acquisition loop. Either bus may be nil.
func NewAcquirer(p *Pipeline, can bus.CAN, linPort io.Reader, linDec lin.Decoder, opts AcquirerOptions) *Acquirer {
	if opts.MaxCANPerPoll <= 0 {
		opts.MaxCANPerPoll = 64
	}
	if opts.LINReadSize <= 0 {
		opts.LINReadSize = 64
	}
	if linPort != nil && linDec == nil {
		linDec = lin.NewFramer(p.Pool, lin.ChecksumClassic)
	}
	return &Acquirer{
		p:      p,
		opts:   opts,
		can:    can,
		lin:    linPort,
		linDec: linDec,
		linBuf: make([]byte, opts.LINReadSize),
	}
}

// Run polls until ctx is done
func (a *Acquirer) Run(ctx context.Context) error {
	interval := a.opts.PollInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			a.Poll(now)
		}
	}
}

// Poll runs one bounded acquisition pass
func (a *Acquirer) Poll(now time.Time) {
	if a.can != nil {
		a.applySelfTest(now)
		a.pollCAN()
	}
	if a.lin != nil {
		a.pollLIN()
	}
}

func (a *Acquirer) applySelfTest(now time.Time) {
	want := a.p.Mode.SelfTest.Load()
	if want != a.loopback {
		if err := a.can.SetLoopback(want); err != nil {
			a.p.Stats.CAN.Errors.Add(1)
			a.p.Console.TryError("selftest: %v", err)
			// retried on the next poll
			return
		}
		a.loopback = want
		a.lastProbe = time.Time{}
		log.Printf("CAN loopback %s", onOff(want))
	}

	if !a.loopback || a.opts.ProbeInterval <= 0 || now.Sub(a.lastProbe) < a.opts.ProbeInterval {
		return
	}
	a.lastProbe = now
	a.probeSeq++
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, a.probeSeq)
	probe := frame.CANMessage{ID: a.opts.ProbeID, Extended: a.opts.ProbeID > frame.MaxStdID, DLC: 8, Data: data}
	if err := a.can.Send(probe); err != nil {
		a.p.Stats.CAN.Errors.Add(1)
		if a.p.Mode.Debug.Load() {
			a.p.Console.TryError("selftest probe: %v", err)
		}
		return
	}
	a.p.Stats.ProbesSent.Add(1)
}

func (a *Acquirer) pollCAN() {
	for i := 0; i < a.opts.MaxCANPerPoll && a.can.Available(); i++ {
		msg, err := a.can.Receive()
		if errors.Is(err, bus.ErrNoFrame) {
			return
		}
		if err != nil {
			a.malformed(frame.KindCAN, err)
			continue
		}
		f, err := a.p.Pool.NewCAN(msg)
		if err != nil {
			a.malformed(frame.KindCAN, err)
			continue
		}
		a.p.Submit(f, a.opts.EnqueueTimeout)
	}
}

func (a *Acquirer) pollLIN() {
	n, err := a.lin.Read(a.linBuf)
	if n > 0 {
		raw := a.linBuf[:n]
		if a.p.Mode.Trace.Load() {
			a.p.Console.TryData(frame.KindLIN, frame.FormatHex(raw))
		}
		for _, b := range raw {
			f, ferr := a.linDec.Feed(b)
			if ferr != nil {
				a.malformed(frame.KindLIN, ferr)
				continue
			}
			if f != nil {
				a.p.Submit(f, a.opts.EnqueueTimeout)
			}
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Printf("LIN transport closed")
			a.lin = nil
			return
		}
		a.p.Stats.LIN.Errors.Add(1)
		if a.p.Mode.Debug.Load() {
			a.p.Console.TryError("lin read: %v", err)
		}
	}
}

func (a *Acquirer) malformed(kind frame.Kind, err error) {
	a.p.Stats.Bus(kind).Malformed.Add(1)
	if a.p.Mode.Debug.Load() {
		a.p.Console.TryError("%s: %v", kind, err)
	}
}
