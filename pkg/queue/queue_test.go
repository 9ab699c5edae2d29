// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

func newLIN(t *testing.T, p *frame.Pool, tag byte) *frame.Frame {
	t.Helper()
	f, err := p.NewLIN([]byte{tag})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestQueue_FIFO(t *testing.T) {
	p := frame.NewPool()
	q := New(16)

	var in []*frame.Frame
	for i := 0; i < 16; i++ {
		var f *frame.Frame
		switch i % 3 {
		case 0:
			f, _ = p.NewCAN(frame.CANMessage{ID: uint32(i), DLC: 1, Data: []byte{byte(i)}})
		case 1:
			f, _ = p.NewLIN([]byte{byte(i)})
		default:
			f, _ = p.NewKLine([]byte{byte(i)})
		}
		in = append(in, f)
		if err := q.Enqueue(f, time.Millisecond); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	for i := 0; i < 16; i++ {
		f, err := q.Dequeue(time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if f != in[i] {
			t.Fatalf("Dequeue %d returned frame out of order", i)
		}
		_ = f.Release()
	}
	if p.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", p.Outstanding())
	}
}

func TestQueue_DropBeyondCapacity(t *testing.T) {
	p := frame.NewPool()
	q := New(4)
	const timeout = 2 * time.Millisecond

	drops := 0
	for i := 0; i < 10; i++ {
		f := newLIN(t, p, byte(i))
		start := time.Now()
		err := q.Enqueue(f, timeout)
		if errors.Is(err, ErrQueueFull) {
			drops++
			if waited := time.Since(start); waited > 50*timeout {
				t.Errorf("producer blocked %v on a full queue", waited)
			}
			_ = f.Release()
		} else if err != nil {
			t.Fatal(err)
		}
	}

	if drops != 6 {
		t.Errorf("drops = %d, want 6", drops)
	}
	if q.Dropped() != uint64(drops) {
		t.Errorf("Dropped = %d, want %d", q.Dropped(), drops)
	}

	// The survivors are the oldest four
	for i := 0; i < 4; i++ {
		f, err := q.Dequeue(0)
		if err != nil {
			t.Fatal(err)
		}
		if f.Data()[0] != byte(i) {
			t.Errorf("survivor %d = %d", i, f.Data()[0])
		}
		_ = f.Release()
	}
	if p.Outstanding() != 0 {
		t.Errorf("leaked %d frames on the drop path", p.Outstanding())
	}
}

func TestQueue_TakeDrops(t *testing.T) {
	p := frame.NewPool()
	q := New(1)
	_ = q.Enqueue(newLIN(t, p, 0), 0)

	for i := 0; i < 3; i++ {
		f := newLIN(t, p, 1)
		if err := q.Enqueue(f, 0); !errors.Is(err, ErrQueueFull) {
			t.Fatalf("err = %v", err)
		}
		_ = f.Release()
	}
	if got := q.TakeDrops(); got != 3 {
		t.Errorf("TakeDrops = %d, want 3", got)
	}
	if got := q.TakeDrops(); got != 0 {
		t.Errorf("second TakeDrops = %d, want 0", got)
	}
	if q.Dropped() != 3 {
		t.Errorf("Dropped = %d", q.Dropped())
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New(2)
	start := time.Now()
	f, err := q.Dequeue(3 * time.Millisecond)
	if !errors.Is(err, ErrQueueEmpty) || f != nil {
		t.Fatalf("Dequeue = %v, %v", f, err)
	}
	if time.Since(start) < 3*time.Millisecond {
		t.Error("Dequeue returned before timeout")
	}
}

func TestQueue_RejectsNil(t *testing.T) {
	q := New(2)
	if err := q.Enqueue(nil, 0); !errors.Is(err, ErrNilFrame) {
		t.Errorf("err = %v", err)
	}
	if q.Dropped() != 0 {
		t.Error("nil enqueue counted as drop")
	}
}

func TestQueue_DequeueContext(t *testing.T) {
	q := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.DequeueContext(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	p := frame.NewPool()
	q := New(DefaultCapacity)

	const producers = 4
	const perProducer = 200

	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				f, _ := p.NewKLine([]byte{byte(w), byte(i)})
				if err := q.Enqueue(f, time.Millisecond); err != nil {
					_ = f.Release()
				}
			}
		}(w)
	}
	wg.Wait()

	// Per-producer order survives interleaving
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		f, err := q.Dequeue(0)
		if err != nil {
			break
		}
		d := f.Data()
		if int(d[1]) <= last[d[0]] {
			t.Fatalf("producer %d: %d after %d", d[0], d[1], last[d[0]])
		}
		last[d[0]] = int(d[1])
		_ = f.Release()
	}

	s := q.Stats()
	if s.Enqueued+s.Dropped != producers*perProducer {
		t.Errorf("enqueued %d + dropped %d != %d", s.Enqueued, s.Dropped, producers*perProducer)
	}
	if p.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", p.Outstanding())
	}
}
