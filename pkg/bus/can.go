// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus provides the bus controllers the acquisition loop polls:
// CAN-FD over Linux SocketCAN or an in-memory controller, and UART ports
// for LIN and K-Line.
package bus

import (
	"errors"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

var (
	ErrNoFrame     = errors.New("bus: no frame available")
	ErrClosed      = errors.New("bus: closed")
	ErrUnsupported = errors.New("bus: unsupported frame")
)

// CAN is a CAN-FD controller. Available and Receive never block.
type CAN interface {
	// Available reports whether a received message is waiting
	Available() bool
	// Receive returns the next message, or ErrNoFrame
	Receive() (frame.CANMessage, error)
	// Send transmits a message
	Send(msg frame.CANMessage) error
	// SetLoopback switches between the physical bus and the controller's
	// internal loopback path
	SetLoopback(on bool) error
	Close() error
}
