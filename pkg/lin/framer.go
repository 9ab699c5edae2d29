// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lin

import (
	"fmt"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// Decoder turns raw LIN bytes into frames. Feed returns a completed frame,
// owned by the caller, or nil while a frame is incomplete.
type Decoder interface {
	Feed(b byte) (*frame.Frame, error)
	Reset()
}

// Framer states
const (
	stateBreak = iota
	stateSync
	statePID
	stateData
	stateChecksum
)

// Framer tracks frame boundaries from the break/sync header. Emitted
// frames hold PID, data and checksum.
type Framer struct {
	pool  *frame.Pool
	model ChecksumModel

	state int
	pid   uint8
	want  int
	buf   []byte
}

// NewFramer creates a conformant framer. A nil pool uses frame.DefaultPool.
func NewFramer(pool *frame.Pool, model ChecksumModel) *Framer {
	if pool == nil {
		pool = frame.DefaultPool
	}
	return &Framer{
		pool:  pool,
		model: model,
		buf:   make([]byte, 0, frame.MaxLINData),
	}
}

// Reset drops any partial frame and waits for the next break
func (f *Framer) Reset() {
	f.state = stateBreak
	f.pid = 0
	f.want = 0
	f.buf = f.buf[:0]
}

// Feed processes one received byte
func (f *Framer) Feed(b byte) (*frame.Frame, error) {
	switch f.state {
	case stateBreak:
		if b == BreakByte {
			f.state = stateSync
		}
		return nil, nil

	case stateSync:
		switch b {
		case SyncByte:
			f.state = statePID
		case BreakByte:
			// long break
		default:
			f.Reset()
			return nil, fmt.Errorf("%w: got 0x%02X", ErrSync, b)
		}
		return nil, nil

	case statePID:
		id, err := ID(b)
		if err != nil {
			f.Reset()
			return nil, err
		}
		f.pid = b
		f.want = DataLen(id)
		f.buf = append(f.buf[:0], b)
		f.state = stateData
		return nil, nil

	case stateData:
		f.buf = append(f.buf, b)
		if len(f.buf)-1 >= f.want {
			f.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		defer f.Reset()
		want := Checksum(f.pid, f.buf[1:], f.model)
		if b != want {
			return nil, fmt.Errorf("%w: pid 0x%02X expected 0x%02X, got 0x%02X", ErrChecksum, f.pid, want, b)
		}
		f.buf = append(f.buf, b)
		return f.pool.NewLIN(f.buf)
	}

	f.Reset()
	return nil, fmt.Errorf("lin: invalid framer state %d", f.state)
}

// Window cuts the byte stream into fixed-size windows with no regard for
// frame boundaries. It reproduces the legacy capture format.
type Window struct {
	pool *frame.Pool
	size int
	buf  []byte
}

// DefaultWindowSize is the legacy window length
const DefaultWindowSize = 8

// NewWindow creates a window decoder. Sizes outside 1..frame.MaxLINData
// use DefaultWindowSize.
func NewWindow(pool *frame.Pool, size int) *Window {
	if pool == nil {
		pool = frame.DefaultPool
	}
	if size < 1 || size > frame.MaxLINData {
		size = DefaultWindowSize
	}
	return &Window{pool: pool, size: size, buf: make([]byte, 0, size)}
}

// Reset drops a partial window
func (w *Window) Reset() {
	w.buf = w.buf[:0]
}

// Feed appends b and emits a frame every size bytes
func (w *Window) Feed(b byte) (*frame.Frame, error) {
	w.buf = append(w.buf, b)
	if len(w.buf) < w.size {
		return nil, nil
	}
	defer w.Reset()
	return w.pool.NewLIN(w.buf)
}

// NewDecoder returns the decoder for a framing mode, "frame" or "window"
func NewDecoder(mode string, pool *frame.Pool, model ChecksumModel) (Decoder, error) {
	switch mode {
	case "frame", "":
		return NewFramer(pool, model), nil
	case "window":
		return NewWindow(pool, DefaultWindowSize), nil
	default:
		return nil, fmt.Errorf("lin: unknown framing %q", mode)
	}
}
