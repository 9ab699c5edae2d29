// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lin turns the raw byte stream read from a LIN UART into frames.
//
// A LIN header starts with a break, which a UART receives as a 0x00 byte,
// followed by the sync byte 0x55 and the protected identifier. The number
// of data bytes is derived from the identifier, LIN 1.x style, and the
// frame ends with a checksum byte.
package lin

import (
	"errors"
	"fmt"
)

// Header bytes as seen by a UART
const (
	BreakByte = 0x00
	SyncByte  = 0x55
	MaxID     = 0x3F
)

// Diagnostic frames always use the classic checksum
const (
	MasterRequestID = 0x3C
	SlaveResponseID = 0x3D
)

var (
	ErrParity   = errors.New("lin: PID parity error")
	ErrChecksum = errors.New("lin: checksum mismatch")
	ErrSync     = errors.New("lin: missing sync byte")
)

// ChecksumModel selects which bytes the checksum covers
type ChecksumModel int

const (
	// ChecksumClassic covers the data bytes only (LIN 1.x)
	ChecksumClassic ChecksumModel = iota
	// ChecksumEnhanced also covers the protected identifier (LIN 2.x)
	ChecksumEnhanced
)

// ParseChecksumModel parses "classic" or "enhanced"
func ParseChecksumModel(s string) (ChecksumModel, error) {
	switch s {
	case "classic", "":
		return ChecksumClassic, nil
	case "enhanced":
		return ChecksumEnhanced, nil
	default:
		return 0, fmt.Errorf("lin: unknown checksum model %q", s)
	}
}

func (m ChecksumModel) String() string {
	if m == ChecksumEnhanced {
		return "enhanced"
	}
	return "classic"
}

// PID returns the protected identifier for a 6-bit frame identifier
func PID(id uint8) uint8 {
	id &= MaxID
	bit := func(n uint) uint8 { return (id >> n) & 1 }
	p0 := bit(0) ^ bit(1) ^ bit(2) ^ bit(4)
	p1 := ^(bit(1) ^ bit(3) ^ bit(4) ^ bit(5)) & 1
	return id | p0<<6 | p1<<7
}

// ID checks the parity bits of a protected identifier and returns the
// frame identifier
func ID(pid uint8) (uint8, error) {
	id := pid & MaxID
	if PID(id) != pid {
		return id, fmt.Errorf("%w: 0x%02X", ErrParity, pid)
	}
	return id, nil
}

// DataLen returns the number of data bytes carried by a frame identifier
func DataLen(id uint8) int {
	switch {
	case id < 32:
		return 2
	case id < 48:
		return 4
	default:
		return 8
	}
}

// Checksum computes the inverted modulo-256 sum with carry over the data,
// and over the PID as well for the enhanced model
func Checksum(pid uint8, data []byte, model ChecksumModel) uint8 {
	var sum uint16
	id := pid & MaxID
	if model == ChecksumEnhanced && id != MasterRequestID && id != SlaveResponseID {
		sum = uint16(pid)
	}
	for _, b := range data {
		sum += uint16(b)
		if sum > 0xFF {
			sum -= 0xFF
		}
	}
	return ^uint8(sum)
}

// Encode builds the byte sequence a UART sees for one complete frame:
// break, sync, PID, data, checksum. len(data) must match DataLen(id).
func Encode(id uint8, data []byte, model ChecksumModel) ([]byte, error) {
	if id > MaxID {
		return nil, fmt.Errorf("lin: id 0x%02X out of range", id)
	}
	if len(data) != DataLen(id) {
		return nil, fmt.Errorf("lin: id 0x%02X carries %d data bytes, got %d", id, DataLen(id), len(data))
	}
	pid := PID(id)
	out := make([]byte, 0, len(data)+4)
	out = append(out, BreakByte, SyncByte, pid)
	out = append(out, data...)
	out = append(out, Checksum(pid, data, model))
	return out, nil
}
