// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framelog

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// parseRecordPayload parses [record_type, payload_map]
func parseRecordPayload(data []byte) (RecordType, map[int]interface{}, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var t RecordType
	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return 0, nil, fmt.Errorf("record type out of range: %d", v)
		}
		t = RecordType(v)
	default:
		return 0, nil, fmt.Errorf("expected uint for record type, got %T", msg[0])
	}

	raw, ok := msg[1].(map[interface{}]interface{})
	if !ok {
		return 0, nil, fmt.Errorf("expected map payload, got %T", msg[1])
	}
	payload := make(map[int]interface{}, len(raw))
	for key, val := range raw {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return 0, nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return t, payload, nil
}

func getUint(m map[int]interface{}, key int) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func getInt(m map[int]interface{}, key int) (int64, bool) {
	switch v := m[key].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func getBytes(m map[int]interface{}, key int) ([]byte, bool) {
	v, ok := m[key].([]byte)
	return v, ok
}

func getString(m map[int]interface{}, key int) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}
