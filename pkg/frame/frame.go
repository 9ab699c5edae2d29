// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame defines the captured bus frame that moves through the
// acquisition pipeline, together with its ownership contract.
//
// A Frame is allocated by a producer, handed to the transfer queue, and
// released exactly once by the consumer. Release is guarded: a second
// Release returns ErrDoubleRelease, and reading the payload of a released
// frame panics.
package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Kind identifies the bus a frame was captured from
type Kind uint8

const (
	KindCAN Kind = iota + 1
	KindLIN
	KindKLine
)

// String returns the lower-case bus name used in console prefixes
func (k Kind) String() string {
	switch k {
	case KindCAN:
		return "can"
	case KindLIN:
		return "lin"
	case KindKLine:
		return "kline"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known bus kinds
func (k Kind) Valid() bool {
	return k == KindCAN || k == KindLIN || k == KindKLine
}

// ParseKind parses a bus name as printed by String
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindCAN, KindLIN, KindKLine} {
		if s == k.String() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bus %q", s)
}

// Payload limits per kind
const (
	MaxCANData   = 64
	MaxLINData   = 11 // PID + 8 data + checksum
	MaxKLineData = 260
	MaxStdID     = 0x7FF
	MaxExtID     = 0x1FFFFFFF
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrDoubleRelease  = errors.New("frame released twice")
)

// Flags carries the CAN frame format bits
type Flags uint8

const (
	FlagExtended Flags = 1 << iota
	FlagFD
	FlagBRS
)

// CANMessage is a received or transmitted CAN / CAN-FD message as exchanged
// with the CAN controller. Data must hold exactly DLCToLen(DLC) bytes.
type CANMessage struct {
	ID       uint32
	Extended bool
	FD       bool
	BRS      bool
	DLC      uint8
	Data     []byte
}

// Flags returns the message's format bits
func (m CANMessage) Flags() Flags {
	var f Flags
	if m.Extended {
		f |= FlagExtended
	}
	if m.FD {
		f |= FlagFD
	}
	if m.BRS {
		f |= FlagBRS
	}
	return f
}

// Validate checks identifier range and DLC / data length agreement
func (m CANMessage) Validate() error {
	if m.Extended {
		if m.ID > MaxExtID {
			return fmt.Errorf("%w: extended id 0x%X out of range", ErrMalformedFrame, m.ID)
		}
	} else if m.ID > MaxStdID {
		return fmt.Errorf("%w: standard id 0x%X out of range", ErrMalformedFrame, m.ID)
	}
	if m.DLC > 15 {
		return fmt.Errorf("%w: dlc %d out of range", ErrMalformedFrame, m.DLC)
	}
	if !m.FD && m.DLC > 8 {
		return fmt.Errorf("%w: dlc %d requires CAN-FD", ErrMalformedFrame, m.DLC)
	}
	if m.BRS && !m.FD {
		return fmt.Errorf("%w: bit rate switch on classic frame", ErrMalformedFrame)
	}
	if want := DLCToLen(m.DLC); len(m.Data) != want {
		return fmt.Errorf("%w: dlc %d needs %d data bytes, got %d", ErrMalformedFrame, m.DLC, want, len(m.Data))
	}
	return nil
}

// Frame is one captured unit of bus traffic
type Frame struct {
	kind      Kind
	timestamp time.Time

	// CAN only
	id    uint32
	flags Flags
	dlc   uint8

	data     []byte
	pool     *Pool
	released atomic.Bool
}

// Kind returns the bus the frame came from. Valid after release.
func (f *Frame) Kind() Kind {
	return f.kind
}

// Timestamp returns the capture time
func (f *Frame) Timestamp() time.Time {
	f.mustLive()
	return f.timestamp
}

// SetTimestamp overrides the capture time. Only the current owner may call it.
func (f *Frame) SetTimestamp(t time.Time) {
	f.mustLive()
	f.timestamp = t
}

// ID returns the CAN identifier (zero for other kinds)
func (f *Frame) ID() uint32 {
	f.mustLive()
	return f.id
}

// DLC returns the CAN data length code (zero for other kinds)
func (f *Frame) DLC() uint8 {
	f.mustLive()
	return f.dlc
}

// Flags returns the CAN format bits (zero for other kinds)
func (f *Frame) Flags() Flags {
	f.mustLive()
	return f.flags
}

// Data returns the payload bytes. The slice is owned by the frame and must
// not be retained past the owner's Release.
func (f *Frame) Data() []byte {
	f.mustLive()
	return f.data
}

// Len returns the payload length in bytes
func (f *Frame) Len() int {
	f.mustLive()
	return len(f.data)
}

// CANMessage returns a copy of a CAN frame as a controller message
func (f *Frame) CANMessage() (CANMessage, bool) {
	f.mustLive()
	if f.kind != KindCAN {
		return CANMessage{}, false
	}
	return CANMessage{
		ID:       f.id,
		Extended: f.flags&FlagExtended != 0,
		FD:       f.flags&FlagFD != 0,
		BRS:      f.flags&FlagBRS != 0,
		DLC:      f.dlc,
		Data:     append([]byte(nil), f.data...),
	}, true
}

// Released reports whether the frame has been released
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Release returns the frame's backing storage to its pool. It must be
// called exactly once by the final owner; a second call returns
// ErrDoubleRelease and is counted by the pool.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		if f.pool != nil {
			f.pool.doubleReleases.Add(1)
		}
		return ErrDoubleRelease
	}
	if f.pool != nil {
		f.pool.put(f.data)
	}
	f.data = nil
	return nil
}

func (f *Frame) mustLive() {
	if f.released.Load() {
		panic(fmt.Sprintf("frame: use of released %s frame", f.kind))
	}
}

// NewCAN wraps a CAN message into a frame from the default pool
func NewCAN(msg CANMessage) (*Frame, error) {
	return DefaultPool.NewCAN(msg)
}

// NewLIN wraps LIN bytes into a frame from the default pool
func NewLIN(data []byte) (*Frame, error) {
	return DefaultPool.NewLIN(data)
}

// NewKLine wraps K-Line bytes into a frame from the default pool
func NewKLine(data []byte) (*Frame, error) {
	return DefaultPool.NewKLine(data)
}
