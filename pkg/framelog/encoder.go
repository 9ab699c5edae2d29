// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framelog

import (
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/fxamacker/cbor/v2"
)

// Deterministic encoding keeps identical frames byte-identical in the log
var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("framelog: cbor enc mode: %v", err))
	}
	return em
}

// EncodeFrame encodes a frame as a RecordFrame ready to append to a log.
// The frame is only read; ownership stays with the caller.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	payload := map[int]interface{}{
		keyFrameKind: uint64(f.Kind()),
		keyFrameTime: f.Timestamp().UnixMicro(),
		keyFrameData: f.Data(),
	}
	if f.Kind() == frame.KindCAN {
		payload[keyFrameID] = uint64(f.ID())
		payload[keyFrameDLC] = uint64(f.DLC())
		payload[keyFrameFlags] = uint64(f.Flags())
	}
	return EncodeRecord(RecordFrame, payload)
}

// EncodeSession encodes a session header record
func EncodeSession(s Session) ([]byte, error) {
	payload := map[int]interface{}{
		keySessionID:    s.ID.String(),
		keySessionStart: s.Start.UnixMicro(),
		keySessionNode:  s.Node,
	}
	return EncodeRecord(RecordSession, payload)
}

// EncodeRecord creates a complete framed record from a type and payload
// map, including length, CRC and byte stuffing
func EncodeRecord(t RecordType, payloadMap map[int]interface{}) ([]byte, error) {
	cborPayload, err := encMode.Marshal([]interface{}{uint64(t), payloadMap})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	if len(cborPayload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(cborPayload), MaxPayloadSize)
	}

	// length + payload is what gets CRC'd and byte-stuffed
	data := make([]byte, headerSize, headerSize+len(cborPayload)+crcSize)
	binary.BigEndian.PutUint16(data, uint16(len(cborPayload)))
	data = append(data, cborPayload...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	record := make([]byte, 0, len(stuffed)+2)
	record = append(record, StartByte)
	record = append(record, stuffed...)
	record = append(record, EndByte)
	return record, nil
}

// stuffBytes replaces START, END and ESC with ESC + (byte XOR EscXor)
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)+len(data)/8)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}
