// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// CAN-FD data length codes 9..15 map to these payload sizes
var fdLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen returns the payload length for a CAN-FD data length code.
// Codes above 15 return -1.
func DLCToLen(dlc uint8) int {
	if dlc > 15 {
		return -1
	}
	return fdLengths[dlc]
}

// LenToDLC returns the smallest DLC whose payload holds n bytes, and false
// if n exceeds MaxCANData
func LenToDLC(n int) (uint8, bool) {
	if n < 0 || n > MaxCANData {
		return 0, false
	}
	for dlc, l := range fdLengths {
		if l >= n {
			return uint8(dlc), true
		}
	}
	return 0, false
}
