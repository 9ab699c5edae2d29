// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package bus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"golang.org/x/sys/unix"
)

// struct can_frame / struct canfd_frame sizes
const (
	canMTU   = 16
	canfdMTU = 72
	canfdBRS = 0x01
)

// SocketCAN is a raw CAN_RAW socket bound to one interface with CAN-FD
// frames enabled
type SocketCAN struct {
	iface string
	fd    int

	mu     sync.Mutex
	closed bool
}

// OpenSocketCAN binds a raw socket to iface (e.g. "can0" or "vcan0")
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("enable CAN FD: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &SocketCAN{iface: iface, fd: fd}, nil
}

// Available polls the socket without waiting
func (s *SocketCAN) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	return err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
}

// Receive reads one classic or FD frame. Remote and error frames are
// reported as ErrUnsupported.
func (s *SocketCAN) Receive() (frame.CANMessage, error) {
	if !s.Available() {
		return frame.CANMessage{}, ErrNoFrame
	}
	var buf [canfdMTU]byte
	n, err := unix.Read(s.fd, buf[:])
	if err != nil {
		return frame.CANMessage{}, fmt.Errorf("read(can@%s): %w", s.iface, err)
	}
	return decodeRaw(buf[:n])
}

// Send writes msg, as a canfd_frame when msg.FD is set
func (s *SocketCAN) Send(msg frame.CANMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := unix.Write(s.fd, encodeRaw(msg))
	return err
}

// SetLoopback makes the socket receive its own transmissions. With the
// interface in loopback mode this is the controller's self-test path.
func (s *SocketCAN) SetLoopback(on bool) error {
	v := 0
	if on {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, v)
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// decodeRaw parses struct can_frame or struct canfd_frame, which the kernel
// fills in host byte order:
//
//	can_id u32 [0:4] | len u8 [4] | flags u8 [5] | res [6:8] | data [8:]
func decodeRaw(buf []byte) (frame.CANMessage, error) {
	if len(buf) != canMTU && len(buf) != canfdMTU {
		return frame.CANMessage{}, fmt.Errorf("%w: short read %d", ErrUnsupported, len(buf))
	}
	id := binary.NativeEndian.Uint32(buf[0:4])
	if id&(unix.CAN_RTR_FLAG|unix.CAN_ERR_FLAG) != 0 {
		return frame.CANMessage{}, fmt.Errorf("%w: can_id 0x%08X", ErrUnsupported, id)
	}

	msg := frame.CANMessage{FD: len(buf) == canfdMTU}
	if id&unix.CAN_EFF_FLAG != 0 {
		msg.Extended = true
		msg.ID = id & unix.CAN_EFF_MASK
	} else {
		msg.ID = id & unix.CAN_SFF_MASK
	}

	n := int(buf[4])
	if msg.FD {
		msg.BRS = buf[5]&canfdBRS != 0
		dlc, ok := frame.LenToDLC(n)
		if !ok {
			return frame.CANMessage{}, fmt.Errorf("%w: fd len %d", ErrUnsupported, n)
		}
		msg.DLC = dlc
		// len is rounded up to the next valid FD length
		n = frame.DLCToLen(dlc)
	} else {
		if n > 8 {
			n = 8
		}
		msg.DLC = uint8(n)
	}
	msg.Data = append([]byte(nil), buf[8:8+n]...)
	return msg, nil
}

func encodeRaw(msg frame.CANMessage) []byte {
	size := canMTU
	if msg.FD {
		size = canfdMTU
	}
	buf := make([]byte, size)
	id := msg.ID
	if msg.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(msg.Data))
	if msg.BRS {
		buf[5] = canfdBRS
	}
	copy(buf[8:], msg.Data)
	return buf
}
