// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/google/uuid"
)

var (
	ErrCRCMismatch = errors.New("CRC mismatch")
	ErrFraming     = errors.New("framing error")
	ErrRecord      = errors.New("invalid record")
)

// Decoder implements the log record decoder state machine. It
// resynchronises on every START byte, so a torn record costs at most
// itself.
type Decoder struct {
	pool *frame.Pool

	state      int
	escapeNext bool
	length     int
	payload    []byte
	crc        crc16
	rxCRC      uint16
}

// NewDecoder creates a decoder that allocates decoded frames from pool.
// A nil pool uses frame.DefaultPool.
func NewDecoder(pool *frame.Pool) *Decoder {
	if pool == nil {
		pool = frame.DefaultPool
	}
	return &Decoder{
		pool:    pool,
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escapeNext = false
	d.length = 0
	d.payload = d.payload[:0]
	d.crc = newCRC()
	d.rxCRC = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed record, or nil while a record is incomplete.
func (d *Decoder) DecodeByte(b byte) (*Record, error) {
	if d.state == stateIdle {
		if b == StartByte {
			d.Reset()
			d.state = stateLengthHi
		}
		return nil, nil
	}

	// Framing bytes are never escaped
	if !d.escapeNext {
		switch b {
		case StartByte:
			torn := d.state
			d.Reset()
			d.state = stateLengthHi
			return nil, fmt.Errorf("%w: START inside record (state %d)", ErrFraming, torn)
		case EndByte:
			return d.finish()
		case EscByte:
			d.escapeNext = true
			return nil, nil
		}
	} else {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateLengthHi:
		d.crc = d.crc.update(b)
		d.length = int(b) << 8
		d.state = stateLengthLo

	case stateLengthLo:
		d.crc = d.crc.update(b)
		d.length |= int(b)
		if d.length == 0 || d.length > MaxPayloadSize {
			n := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: length %d (1..%d)", ErrFraming, n, MaxPayloadSize)
		}
		d.state = statePayload

	case statePayload:
		d.crc = d.crc.update(b)
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.rxCRC = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.rxCRC |= uint16(b)
		d.state = stateEnd

	default:
		d.Reset()
		return nil, fmt.Errorf("%w: trailing byte 0x%02X before END", ErrFraming, b)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Record, error) {
	if d.state != stateEnd {
		s := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: unexpected END in state %d", ErrFraming, s)
	}
	defer d.Reset()

	if want := uint16(d.crc); want != d.rxCRC {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, want, d.rxCRC)
	}

	t, m, err := parseRecordPayload(d.payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecord, err)
	}
	return d.buildRecord(t, m)
}

func (d *Decoder) buildRecord(t RecordType, m map[int]interface{}) (*Record, error) {
	switch t {
	case RecordSession:
		s, err := parseSession(m)
		if err != nil {
			return nil, err
		}
		return &Record{Type: t, Session: s}, nil
	case RecordFrame:
		f, err := d.parseFrame(m)
		if err != nil {
			return nil, err
		}
		return &Record{Type: t, Frame: f}, nil
	default:
		return nil, fmt.Errorf("%w: unknown record type 0x%02X", ErrRecord, uint8(t))
	}
}

func parseSession(m map[int]interface{}) (*Session, error) {
	idStr, ok := getString(m, keySessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session without id", ErrRecord)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: session id: %v", ErrRecord, err)
	}
	start, ok := getInt(m, keySessionStart)
	if !ok {
		return nil, fmt.Errorf("%w: session without start", ErrRecord)
	}
	node, _ := getString(m, keySessionNode)
	return &Session{ID: id, Start: time.UnixMicro(start), Node: node}, nil
}

func (d *Decoder) parseFrame(m map[int]interface{}) (*frame.Frame, error) {
	kind, ok := getUint(m, keyFrameKind)
	if !ok || kind > 255 || !frame.Kind(kind).Valid() {
		return nil, fmt.Errorf("%w: bad frame kind", ErrRecord)
	}
	ts, ok := getInt(m, keyFrameTime)
	if !ok {
		return nil, fmt.Errorf("%w: frame without timestamp", ErrRecord)
	}
	data, _ := getBytes(m, keyFrameData)

	var f *frame.Frame
	var err error
	switch frame.Kind(kind) {
	case frame.KindCAN:
		id, _ := getUint(m, keyFrameID)
		dlc, _ := getUint(m, keyFrameDLC)
		flags, _ := getUint(m, keyFrameFlags)
		if id > frame.MaxExtID || dlc > 15 {
			return nil, fmt.Errorf("%w: can id 0x%X dlc %d", ErrRecord, id, dlc)
		}
		fl := frame.Flags(flags)
		f, err = d.pool.NewCAN(frame.CANMessage{
			ID:       uint32(id),
			Extended: fl&frame.FlagExtended != 0,
			FD:       fl&frame.FlagFD != 0,
			BRS:      fl&frame.FlagBRS != 0,
			DLC:      uint8(dlc),
			Data:     data,
		})
	case frame.KindLIN:
		f, err = d.pool.NewLIN(data)
	case frame.KindKLine:
		f, err = d.pool.NewKLine(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecord, err)
	}
	f.SetTimestamp(time.UnixMicro(ts))
	return f, nil
}

// ReadAll decodes every record in r. Corrupt records are skipped and
// reported in errs; err is only set when reading r fails.
func ReadAll(r io.Reader, pool *frame.Pool) (records []Record, errs []error, err error) {
	d := NewDecoder(pool)
	br := bufio.NewReader(r)
	for {
		b, rerr := br.ReadByte()
		if rerr == io.EOF {
			return records, errs, nil
		}
		if rerr != nil {
			return records, errs, rerr
		}
		rec, derr := d.DecodeByte(b)
		if derr != nil {
			errs = append(errs, derr)
			continue
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
}
