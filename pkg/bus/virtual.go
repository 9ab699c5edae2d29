// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"sync"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// Virtual is an in-memory CAN controller. Inject feeds bus traffic; in
// loopback mode sent messages are received back instead of reaching the
// bus.
type Virtual struct {
	mu       sync.Mutex
	rx       []frame.CANMessage
	sent     []frame.CANMessage
	loopback bool
	closed   bool
}

// NewVirtual creates an empty virtual controller
func NewVirtual() *Virtual {
	return &Virtual{}
}

// Inject queues msg as if it had been received from the bus. Injected
// traffic is ignored in loopback mode, like a controller disconnected
// from the physical bus.
func (v *Virtual) Inject(msg frame.CANMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.loopback {
		return
	}
	v.rx = append(v.rx, msg)
}

func (v *Virtual) Available() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rx) > 0
}

func (v *Virtual) Receive() (frame.CANMessage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return frame.CANMessage{}, ErrClosed
	}
	if len(v.rx) == 0 {
		return frame.CANMessage{}, ErrNoFrame
	}
	msg := v.rx[0]
	v.rx = v.rx[1:]
	return msg, nil
}

func (v *Virtual) Send(msg frame.CANMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	msg.Data = append([]byte(nil), msg.Data...)
	if v.loopback {
		v.rx = append(v.rx, msg)
		return nil
	}
	v.sent = append(v.sent, msg)
	return nil
}

func (v *Virtual) SetLoopback(on bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.loopback = on
	return nil
}

// Loopback reports the current mode
func (v *Virtual) Loopback() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loopback
}

// Sent returns the messages transmitted onto the bus
func (v *Virtual) Sent() []frame.CANMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]frame.CANMessage(nil), v.sent...)
}

func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.rx = nil
	return nil
}
