// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lin

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

func feed(t *testing.T, d Decoder, in []byte) ([]*frame.Frame, []error) {
	t.Helper()
	var frames []*frame.Frame
	var errs []error
	for _, b := range in {
		f, err := d.Feed(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestPID(t *testing.T) {
	tests := []struct {
		id, pid uint8
	}{
		{0x00, 0x80},
		{0x01, 0xC1},
		{0x10, 0x50},
		{0x3C, 0x3C},
		{0x3D, 0x7D},
		{0x3F, 0xBF},
	}
	for _, tt := range tests {
		if got := PID(tt.id); got != tt.pid {
			t.Errorf("PID(0x%02X) = 0x%02X, want 0x%02X", tt.id, got, tt.pid)
		}
		id, err := ID(tt.pid)
		if err != nil || id != tt.id {
			t.Errorf("ID(0x%02X) = 0x%02X, %v", tt.pid, id, err)
		}
	}
	if _, err := ID(0x00); !errors.Is(err, ErrParity) {
		t.Errorf("ID(0x00) err = %v, want ErrParity", err)
	}
}

func TestDataLen(t *testing.T) {
	for id, want := range map[uint8]int{0: 2, 31: 2, 32: 4, 47: 4, 48: 8, 63: 8} {
		if got := DataLen(id); got != want {
			t.Errorf("DataLen(%d) = %d, want %d", id, got, want)
		}
	}
}

func TestChecksum(t *testing.T) {
	data := []byte{0x4A, 0x55, 0x93, 0xE5}
	// sum with carry is 0x19
	if got := Checksum(PID(0x20), data, ChecksumClassic); got != 0xE6 {
		t.Errorf("classic = 0x%02X, want 0xE6", got)
	}
	// Diagnostic identifiers ignore the enhanced model
	if Checksum(PID(MasterRequestID), data, ChecksumEnhanced) != Checksum(PID(MasterRequestID), data, ChecksumClassic) {
		t.Error("master request used enhanced checksum")
	}
	if Checksum(PID(0x20), data, ChecksumEnhanced) == Checksum(PID(0x20), data, ChecksumClassic) {
		t.Error("enhanced checksum ignored the PID")
	}
}

func TestFramer_DecodesEncodedFrames(t *testing.T) {
	for _, model := range []ChecksumModel{ChecksumClassic, ChecksumEnhanced} {
		t.Run(model.String(), func(t *testing.T) {
			p := frame.NewPool()
			fr := NewFramer(p, model)

			var stream []byte
			ids := []uint8{0x05, 0x22, 0x31}
			for _, id := range ids {
				data := bytes.Repeat([]byte{id}, DataLen(id))
				enc, err := Encode(id, data, model)
				if err != nil {
					t.Fatal(err)
				}
				stream = append(stream, enc...)
			}

			frames, errs := feed(t, fr, stream)
			if len(errs) != 0 {
				t.Fatalf("errors: %v", errs)
			}
			if len(frames) != len(ids) {
				t.Fatalf("got %d frames, want %d", len(frames), len(ids))
			}
			for i, f := range frames {
				d := f.Data()
				if d[0] != PID(ids[i]) || len(d) != DataLen(ids[i])+2 {
					t.Errorf("frame %d = %s", i, f)
				}
				_ = f.Release()
			}
			if p.Outstanding() != 0 {
				t.Errorf("Outstanding = %d", p.Outstanding())
			}
		})
	}
}

func TestFramer_Errors(t *testing.T) {
	good, _ := Encode(0x05, []byte{0x01, 0x02}, ChecksumClassic)

	badChecksum := append([]byte(nil), good...)
	badChecksum[len(badChecksum)-1] ^= 0xFF

	badParity := append([]byte(nil), good...)
	badParity[2] ^= 0x80

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"checksum", badChecksum, ErrChecksum},
		{"parity", badParity, ErrParity},
		{"sync", []byte{BreakByte, 0x54}, ErrSync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := frame.NewPool()
			frames, errs := feed(t, NewFramer(p, ChecksumClassic), append(tt.in, good...))
			if len(errs) != 1 || !errors.Is(errs[0], tt.want) {
				t.Fatalf("errors = %v, want %v", errs, tt.want)
			}
			// the framer recovers on the next break
			if len(frames) != 1 {
				t.Fatalf("got %d frames after error", len(frames))
			}
			_ = frames[0].Release()
		})
	}
}

func TestFramer_IgnoresNoiseAndLongBreak(t *testing.T) {
	good, _ := Encode(0x30, []byte{1, 2, 3, 4, 5, 6, 7, 8}, ChecksumEnhanced)
	in := append([]byte{0x11, 0x22, BreakByte}, good...)
	frames, errs := feed(t, NewFramer(nil, ChecksumEnhanced), in)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("frames %d errors %v", len(frames), errs)
	}
	if got := frames[0].Len(); got != 10 {
		t.Errorf("Len = %d, want 10", got)
	}
	_ = frames[0].Release()
}

func TestWindow(t *testing.T) {
	p := frame.NewPool()
	w := NewWindow(p, 0)
	in := make([]byte, 20)
	for i := range in {
		in[i] = byte(i)
	}
	frames, errs := feed(t, w, in)
	if len(errs) != 0 || len(frames) != 2 {
		t.Fatalf("frames %d errors %v", len(frames), errs)
	}
	if got, want := frames[1].Hex(), "08 09 0A 0B 0C 0D 0E 0F"; got != want {
		t.Errorf("second window = %q, want %q", got, want)
	}
	for _, f := range frames {
		_ = f.Release()
	}
}

func TestNewDecoder(t *testing.T) {
	if d, err := NewDecoder("window", nil, ChecksumClassic); err != nil {
		t.Fatal(err)
	} else if _, ok := d.(*Window); !ok {
		t.Errorf("window mode = %T", d)
	}
	if d, err := NewDecoder("frame", nil, ChecksumClassic); err != nil {
		t.Fatal(err)
	} else if _, ok := d.(*Framer); !ok {
		t.Errorf("frame mode = %T", d)
	}
	if _, err := NewDecoder("bogus", nil, ChecksumClassic); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestEncode_Rejects(t *testing.T) {
	if _, err := Encode(0x40, []byte{1, 2}, ChecksumClassic); err == nil {
		t.Error("id 0x40 accepted")
	}
	if _, err := Encode(0x05, []byte{1, 2, 3}, ChecksumClassic); err == nil {
		t.Error("wrong length accepted")
	}
}

// ============================================================
// Fuzz
// ============================================================

func fuzzRng(t *testing.T) (*rand.Rand, int) {
	seed := time.Now().UnixNano()
	if s, err := strconv.ParseInt(os.Getenv("FUZZ_SEED"), 10, 64); err == nil {
		seed = s
	}
	rounds := 1000
	if r, err := strconv.Atoi(os.Getenv("FUZZ_ROUNDS")); err == nil && r > 0 {
		rounds = r
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed)), rounds
}

func TestFuzz_FramerNeverLeaks(t *testing.T) {
	rng, rounds := fuzzRng(t)
	p := frame.NewPool()
	fr := NewFramer(p, ChecksumEnhanced)

	for i := 0; i < rounds; i++ {
		var in []byte
		if rng.Intn(2) == 0 {
			id := uint8(rng.Intn(MaxID + 1))
			data := make([]byte, DataLen(id))
			rng.Read(data)
			in, _ = Encode(id, data, ChecksumEnhanced)
		} else {
			in = make([]byte, rng.Intn(16))
			rng.Read(in)
		}
		frames, _ := feed(t, fr, in)
		for _, f := range frames {
			if f.Len() > frame.MaxLINData {
				t.Fatalf("oversize frame %s", f)
			}
			_ = f.Release()
		}
	}
	if p.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", p.Outstanding())
	}
}
