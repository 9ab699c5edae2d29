// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"fmt"
	"sync/atomic"
)

// Mode holds the operating flags. The command processor writes them; the
// acquisition loop and dispatcher read them. Last writer wins.
type Mode struct {
	// SelfTest routes CAN through the controller's loopback path
	SelfTest atomic.Bool
	// Debug echoes every dispatched frame to the console
	Debug atomic.Bool
	// Trace echoes raw LIN bytes as they are read
	Trace atomic.Bool
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m *Mode) String() string {
	return fmt.Sprintf("selftest=%s debug=%s trace=%s",
		onOff(m.SelfTest.Load()), onOff(m.Debug.Load()), onOff(m.Trace.Load()))
}
