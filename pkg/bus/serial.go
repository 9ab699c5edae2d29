// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Default UART settings
const (
	LINBaud   = 19200
	KLineBaud = 10400
)

// OpenUART opens an 8N1 serial port with a bounded read timeout, so a
// Read returns (0, nil) when nothing arrives in time
func OpenUART(name string, baud int, readTimeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
		}
	}
	return port, nil
}

// ListUARTs returns the serial ports present on the system
func ListUARTs() ([]string, error) {
	return serial.GetPortsList()
}
