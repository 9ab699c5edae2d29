// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package kline implements an ISO 14230 (KWP2000) client for the K-Line
// diagnostic bus over a UART.
package kline

import (
	"errors"
	"fmt"
)

// ISO 14230 addressing
const (
	FormatPhysical   = 0x80
	FormatFunctional = 0xC0
	DefaultTarget    = 0x33
	DefaultTester    = 0xF1
	maxShortLen      = 0x3F
)

// Services used by the client
const (
	ServiceStartCommunication = 0x81
	ServiceVehicleInfo        = 0x09
	NegativeResponseID        = 0x7F
	positiveOffset            = 0x40
)

// Vehicle information PIDs (OBD mode 09)
const (
	PIDVIN           = 0x02
	PIDCalibrationID = 0x04
	PIDCVN           = 0x06
)

var (
	ErrNoResponse     = errors.New("kline: no response")
	ErrChecksum       = errors.New("kline: checksum mismatch")
	ErrEcho           = errors.New("kline: echo mismatch")
	ErrNotInitialized = errors.New("kline: bus not initialized")
	ErrMalformed      = errors.New("kline: malformed message")
)

// NegativeResponse is returned when the ECU answers with service 0x7F
type NegativeResponse struct {
	Service byte
	Code    byte
}

func (e *NegativeResponse) Error() string {
	return fmt.Sprintf("kline: negative response to service 0x%02X: code 0x%02X", e.Service, e.Code)
}

// Message is one ISO 14230 message. Data starts with the service id.
type Message struct {
	Format byte
	Target byte
	Source byte
	Data   []byte
	Raw    []byte
}

// Checksum returns the modulo-256 sum of b
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a request with the given header format byte and addresses
func Encode(format, target, source byte, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > 255 {
		return nil, fmt.Errorf("%w: %d data bytes", ErrMalformed, len(data))
	}
	out := make([]byte, 0, len(data)+5)
	if len(data) <= maxShortLen {
		out = append(out, format|byte(len(data)), target, source)
	} else {
		out = append(out, format&0xC0, target, source, byte(len(data)))
	}
	out = append(out, data...)
	return append(out, Checksum(out)), nil
}

// Decode parses one complete message including its checksum
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 5 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(raw))
	}
	hdr := 3
	n := int(raw[0] & maxShortLen)
	if n == 0 {
		n = int(raw[3])
		hdr = 4
	}
	if len(raw) != hdr+n+1 || n == 0 {
		return nil, fmt.Errorf("%w: length byte says %d, got %d bytes", ErrMalformed, n, len(raw))
	}
	if cs := Checksum(raw[:len(raw)-1]); cs != raw[len(raw)-1] {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, cs, raw[len(raw)-1])
	}
	return &Message{
		Format: raw[0] &^ maxShortLen,
		Target: raw[1],
		Source: raw[2],
		Data:   raw[hdr : hdr+n],
		Raw:    raw,
	}, nil
}

// FormatVehicleInfo renders vehicle information as text. VIN and
// calibration ids are ASCII; other PIDs render as hex.
func FormatVehicleInfo(pid byte, data []byte) string {
	if pid == PIDVIN || pid == PIDCalibrationID {
		out := make([]byte, 0, len(data))
		for _, b := range data {
			if b >= 0x20 && b < 0x7F {
				out = append(out, b)
			}
		}
		return string(out)
	}
	return fmt.Sprintf("%X", data)
}
