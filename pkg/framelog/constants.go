// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package framelog implements the self-describing record format used for
// frame log files on removable storage.
//
// Each record is framed and byte-stuffed so a reader can resynchronise
// after a torn write:
//
//	START | stuffed( length(2, BE) | CBOR payload | CRC-16(2, BE) ) | END
//
// The CBOR payload is a two element array [record_type, payload_map] with
// small integer keys. The CRC is CRC-16-CCITT over length and payload.
package framelog

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Size limits
const (
	MaxPayloadSize = 1024
	headerSize     = 2
	crcSize        = 2
	maxBodySize    = headerSize + MaxPayloadSize + crcSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// RecordType tags a log record
type RecordType uint8

const (
	RecordSession RecordType = 0x01
	RecordFrame   RecordType = 0x02
)

// String returns the record type name
func (t RecordType) String() string {
	switch t {
	case RecordSession:
		return "SESSION"
	case RecordFrame:
		return "FRAME"
	default:
		return "UNKNOWN"
	}
}

// Payload map keys - RecordSession
const (
	keySessionID    = 0
	keySessionStart = 1
	keySessionNode  = 2
)

// Payload map keys - RecordFrame
const (
	keyFrameKind  = 0
	keyFrameTime  = 1
	keyFrameData  = 2
	keyFrameID    = 3
	keyFrameDLC   = 4
	keyFrameFlags = 5
)

// Decoder states
const (
	stateIdle = iota
	stateLengthHi
	stateLengthLo
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)
