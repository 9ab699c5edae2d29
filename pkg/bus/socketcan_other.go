// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package bus

import (
	"fmt"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// SocketCAN is only available on Linux
type SocketCAN struct{}

// OpenSocketCAN always fails outside Linux
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, fmt.Errorf("socketcan %q: %w", iface, ErrUnsupported)
}

func (s *SocketCAN) Available() bool                    { return false }
func (s *SocketCAN) Receive() (frame.CANMessage, error) { return frame.CANMessage{}, ErrClosed }
func (s *SocketCAN) Send(frame.CANMessage) error        { return ErrClosed }
func (s *SocketCAN) SetLoopback(bool) error             { return ErrClosed }
func (s *SocketCAN) Close() error                       { return nil }
