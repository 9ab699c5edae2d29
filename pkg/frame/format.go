// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// FormatHex renders b as upper-case hex bytes separated by single spaces,
// first byte first
func FormatHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[v>>4])
		sb.WriteByte(hexDigits[v&0x0F])
	}
	return sb.String()
}

// Hex renders the frame's payload with FormatHex
func (f *Frame) Hex() string {
	return FormatHex(f.Data())
}

// String renders the frame for debug output. CAN frames carry their
// identifier and DLC ahead of the payload:
//
//	123 [8] 01 02 03 04 05 06 07 08
//	18DAF110 [15] FD BRS 02 10 ...
func (f *Frame) String() string {
	f.mustLive()
	if f.kind != KindCAN {
		return FormatHex(f.data)
	}

	var sb strings.Builder
	if f.flags&FlagExtended != 0 {
		fmt.Fprintf(&sb, "%08X", f.id)
	} else {
		fmt.Fprintf(&sb, "%03X", f.id)
	}
	fmt.Fprintf(&sb, " [%d]", f.dlc)
	if f.flags&FlagFD != 0 {
		sb.WriteString(" FD")
	}
	if f.flags&FlagBRS != 0 {
		sb.WriteString(" BRS")
	}
	if len(f.data) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(FormatHex(f.data))
	}
	return sb.String()
}
