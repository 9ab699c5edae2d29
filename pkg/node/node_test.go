// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/carinspector/pkg/bus"
	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/kline"
	"github.com/Thermoquad/carinspector/pkg/lin"
	"github.com/Thermoquad/carinspector/pkg/storage"
)

// syncBuffer is a bytes.Buffer safe for the dispatcher goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestPipeline(capacity int) (*Pipeline, *syncBuffer) {
	out := &syncBuffer{}
	return NewPipeline(capacity, console.New(out)), out
}

type fakeStore struct {
	mu       sync.Mutex
	appended []string
	err      error
	panics   bool
	closed   bool
}

func (s *fakeStore) Append(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("card removed")
	}
	if s.err != nil {
		return s.err
	}
	s.appended = append(s.appended, f.String())
	return nil
}

func (s *fakeStore) CloseSession() error {
	s.closed = true
	return nil
}

// ============================================================
// Dispatcher Tests
// ============================================================

func TestDispatch_DebugEchoToggles(t *testing.T) {
	p, out := newTestPipeline(8)
	d := NewDispatcher(p, nil, time.Millisecond)

	f, _ := p.Pool.NewLIN([]byte{0x80, 0x11, 0x22, 0x4C})
	d.Dispatch(f)
	if strings.Contains(out.String(), "|data-lin:") {
		t.Error("data line with debug off")
	}

	p.Mode.Debug.Store(true)
	f, _ = p.Pool.NewLIN([]byte{0x80, 0x11, 0x22, 0x4C})
	d.Dispatch(f)
	if !strings.Contains(out.String(), "|data-lin:80 11 22 4C\n") {
		t.Errorf("output = %q", out.String())
	}
	if p.Pool.Outstanding() != 0 {
		t.Errorf("Outstanding = %d", p.Pool.Outstanding())
	}
}

func TestDispatch_StorageFailureIsolated(t *testing.T) {
	p, out := newTestPipeline(8)
	p.Mode.Debug.Store(true)
	store := &fakeStore{err: errors.New("card full")}
	d := NewDispatcher(p, store, time.Millisecond)

	f, _ := p.Pool.NewCAN(frame.CANMessage{ID: 0x123, DLC: 1, Data: []byte{0xAA}})
	d.Dispatch(f)

	got := out.String()
	if strings.Count(got, "|error:") != 1 || !strings.Contains(got, "card full") {
		t.Errorf("want one error line, got %q", got)
	}
	if !strings.Contains(got, "|data-can:123 [1] AA") {
		t.Errorf("debug sink skipped after storage failure: %q", got)
	}
	if !f.Released() || p.Pool.Outstanding() != 0 {
		t.Error("frame not released after storage failure")
	}
	if p.Stats.StorageErrors.Load() != 1 {
		t.Errorf("StorageErrors = %d", p.Stats.StorageErrors.Load())
	}
}

func TestDispatch_SinkPanicStillReleases(t *testing.T) {
	p, out := newTestPipeline(8)
	p.Mode.Debug.Store(true)
	d := NewDispatcher(p, &fakeStore{panics: true}, time.Millisecond)

	f, _ := p.Pool.NewKLine([]byte{0x83})
	d.Dispatch(f)
	if !f.Released() {
		t.Fatal("frame leaked by panicking sink")
	}
	if !strings.Contains(out.String(), "|data-kline:83") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDispatch_NoSessionIsSilent(t *testing.T) {
	p, out := newTestPipeline(8)
	d := NewDispatcher(p, &fakeStore{err: storage.ErrNoSession}, time.Millisecond)
	f, _ := p.Pool.NewLIN([]byte{1})
	d.Dispatch(f)
	if out.String() != "" || p.Stats.StorageErrors.Load() != 0 {
		t.Errorf("no session reported as failure: %q", out.String())
	}
}

func TestDispatcher_RunDrainsOnShutdown(t *testing.T) {
	p, _ := newTestPipeline(100)
	store := &fakeStore{}
	d := NewDispatcher(p, store, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		f, _ := p.Pool.NewLIN([]byte{byte(i)})
		if !p.Submit(f, 0) {
			t.Fatal("submit failed")
		}
	}

	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(store.appended) != 50 {
		t.Errorf("appended %d of 50", len(store.appended))
	}
	if !store.closed {
		t.Error("session not closed")
	}
	if p.Pool.Outstanding() != 0 {
		t.Errorf("leaked %d frames at shutdown", p.Pool.Outstanding())
	}
}

func TestPipeline_EndToEndNoLeaks(t *testing.T) {
	p, _ := newTestPipeline(16)
	store := &fakeStore{}
	d := NewDispatcher(p, store, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	submitted := 0
	for i := 0; i < 500; i++ {
		f, _ := p.Pool.NewKLine([]byte{byte(i), byte(i >> 8)})
		if p.Submit(f, time.Millisecond) {
			submitted++
		}
	}
	cancel()
	<-done

	if len(store.appended) != submitted {
		t.Errorf("appended %d, submitted %d", len(store.appended), submitted)
	}
	if got := p.Stats.KLine.Frames.Load() + p.Stats.KLine.Dropped.Load(); got != 500 {
		t.Errorf("frames + dropped = %d", got)
	}
	if s := p.Pool.Stats(); s.Allocated != s.Released || s.DoubleReleases != 0 {
		t.Errorf("pool stats = %+v", s)
	}
}

// ============================================================
// Acquirer Tests
// ============================================================

func TestAcquirer_CAN(t *testing.T) {
	p, _ := newTestPipeline(16)
	can := bus.NewVirtual()
	a := NewAcquirer(p, can, nil, nil, DefaultAcquirerOptions())

	can.Inject(frame.CANMessage{ID: 0x123, DLC: 8, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}})
	can.Inject(frame.CANMessage{ID: 0x456, FD: true, DLC: 9, Data: make([]byte, 12)})
	a.Poll(time.Now())

	if p.Queue.Len() != 2 {
		t.Fatalf("queue len = %d", p.Queue.Len())
	}
	f, _ := p.Queue.Dequeue(0)
	if f.Kind() != frame.KindCAN || f.ID() != 0x123 {
		t.Errorf("first frame = %s", f)
	}
	_ = f.Release()
	f, _ = p.Queue.Dequeue(0)
	_ = f.Release()
}

func TestAcquirer_LINFramedAndTrace(t *testing.T) {
	p, out := newTestPipeline(16)
	p.Mode.Trace.Store(true)

	enc, _ := lin.Encode(0x10, []byte{0xAB, 0xCD}, lin.ChecksumClassic)
	src := bytes.NewReader(enc)
	a := NewAcquirer(p, nil, src, lin.NewFramer(p.Pool, lin.ChecksumClassic), DefaultAcquirerOptions())
	a.Poll(time.Now())

	if !strings.Contains(out.String(), "|data-lin:"+frame.FormatHex(enc)+"\n") {
		t.Errorf("trace output = %q", out.String())
	}
	f, err := p.Queue.Dequeue(0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Hex() != "50 AB CD 86" {
		t.Errorf("LIN frame = %s", f.Hex())
	}
	_ = f.Release()

	// EOF detaches the transport
	a.Poll(time.Now())
	if a.lin != nil {
		t.Error("LIN transport kept after EOF")
	}
}

func TestAcquirer_PollDoesNotWaitForHeldConsole(t *testing.T) {
	p, out := newTestPipeline(16)
	p.Mode.Trace.Store(true)
	p.Mode.Debug.Store(true)

	enc, _ := lin.Encode(0x10, []byte{0xAB, 0xCD}, lin.ChecksumClassic)
	a := NewAcquirer(p, nil, bytes.NewReader(enc), lin.NewFramer(p.Pool, lin.ChecksumClassic), DefaultAcquirerOptions())

	held := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = p.Console.Exclusive(func(tx *console.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	start := time.Now()
	a.Poll(start)
	elapsed := time.Since(start)
	close(release)
	<-finished

	if elapsed > 100*time.Millisecond {
		t.Errorf("Poll took %v while the console was held", elapsed)
	}
	if p.Console.Skipped() == 0 {
		t.Error("trace line not counted as skipped")
	}
	if strings.Contains(out.String(), "|data-lin:") {
		t.Errorf("trace line written during exclusive hold: %q", out.String())
	}

	f, err := p.Queue.Dequeue(0)
	if err != nil {
		t.Fatalf("frame not captured during exclusive hold: %v", err)
	}
	_ = f.Release()
}

func TestAcquirer_LINWindowMode(t *testing.T) {
	p, _ := newTestPipeline(16)
	src := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	a := NewAcquirer(p, nil, src, lin.NewWindow(p.Pool, 8), DefaultAcquirerOptions())
	a.Poll(time.Now())
	if p.Queue.Len() != 1 {
		t.Fatalf("queue len = %d", p.Queue.Len())
	}
	f, _ := p.Queue.Dequeue(0)
	if f.Len() != 8 {
		t.Errorf("window = %d bytes", f.Len())
	}
	_ = f.Release()
}

func TestAcquirer_QueueFullDropsNewest(t *testing.T) {
	p, out := newTestPipeline(2)
	p.Mode.Debug.Store(true)
	can := bus.NewVirtual()
	opts := DefaultAcquirerOptions()
	opts.EnqueueTimeout = 0
	a := NewAcquirer(p, can, nil, nil, opts)

	for i := 0; i < 5; i++ {
		can.Inject(frame.CANMessage{ID: uint32(i), DLC: 1, Data: []byte{byte(i)}})
	}
	a.Poll(time.Now())

	if got := p.Stats.CAN.Dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	if p.Queue.Dropped() != 3 {
		t.Errorf("queue drops = %d", p.Queue.Dropped())
	}
	if strings.Count(out.String(), "|error:queue full, dropped can frame") != 3 {
		t.Errorf("output = %q", out.String())
	}

	// the two oldest survive
	for i := 0; i < 2; i++ {
		f, _ := p.Queue.Dequeue(0)
		if f.ID() != uint32(i) {
			t.Errorf("survivor %d = %s", i, f)
		}
		_ = f.Release()
	}
	if p.Pool.Outstanding() != 0 {
		t.Errorf("drop path leaked %d frames", p.Pool.Outstanding())
	}
}

func TestAcquirer_SelfTestLoopback(t *testing.T) {
	p, _ := newTestPipeline(16)
	can := bus.NewVirtual()
	a := NewAcquirer(p, can, nil, nil, DefaultAcquirerOptions())

	p.Mode.SelfTest.Store(true)
	now := time.Now()
	a.Poll(now)
	if !can.Loopback() {
		t.Fatal("selftest did not switch the controller to loopback")
	}
	if p.Stats.ProbesSent.Load() != 1 {
		t.Errorf("probes = %d", p.Stats.ProbesSent.Load())
	}

	f, err := p.Queue.Dequeue(0)
	if err != nil {
		t.Fatalf("probe not received back: %v", err)
	}
	if f.ID() != 0x7FF || f.Hex() != "00 00 00 00 00 00 00 01" {
		t.Errorf("probe = %s", f)
	}
	_ = f.Release()

	// no second probe inside the interval
	a.Poll(now.Add(10 * time.Millisecond))
	if p.Stats.ProbesSent.Load() != 1 {
		t.Error("probe sent before interval elapsed")
	}

	p.Mode.SelfTest.Store(false)
	a.Poll(now.Add(2 * time.Second))
	if can.Loopback() {
		t.Error("loopback kept after selftest off")
	}
}

// ============================================================
// K-Line Poller Tests
// ============================================================

type fakeKLine struct {
	initErr error
	init    bool
	calls   int
}

func (k *fakeKLine) Init(ctx context.Context) error {
	if k.initErr != nil {
		return k.initErr
	}
	k.init = true
	return nil
}

func (k *fakeKLine) Initialized() bool { return k.init }

func (k *fakeKLine) VehicleInfo(ctx context.Context, pid byte) (*kline.Message, []byte, error) {
	k.calls++
	if pid == kline.PIDCalibrationID {
		return nil, nil, &kline.NegativeResponse{Service: kline.ServiceVehicleInfo, Code: 0x12}
	}
	raw, _ := kline.Encode(kline.FormatPhysical, kline.DefaultTester, 0x10, []byte{0x49, pid, 0x01, 'A', 'B'})
	msg, _ := kline.Decode(raw)
	return msg, []byte("AB"), nil
}

func TestKLinePoller(t *testing.T) {
	p, _ := newTestPipeline(16)
	client := &fakeKLine{}
	k := NewKLinePoller(p, client, nil, 0, time.Millisecond)

	if err := k.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.calls != 3 {
		t.Errorf("queries = %d, want 3", client.calls)
	}
	if p.Queue.Len() != 2 {
		t.Fatalf("queued %d frames, want 2", p.Queue.Len())
	}
	if p.Stats.KLine.Errors.Load() != 1 {
		t.Errorf("errors = %d", p.Stats.KLine.Errors.Load())
	}
	f, _ := p.Queue.Dequeue(0)
	if f.Kind() != frame.KindKLine || f.Data()[3] != 0x49 {
		t.Errorf("frame = %s", f)
	}
	_ = f.Release()
	f, _ = p.Queue.Dequeue(0)
	_ = f.Release()
}

func TestKLinePoller_InitFailure(t *testing.T) {
	p, _ := newTestPipeline(16)
	client := &fakeKLine{initErr: kline.ErrNoResponse}
	k := NewKLinePoller(p, client, []byte{kline.PIDVIN}, 0, time.Millisecond)
	if n := k.Poll(context.Background()); n != 0 {
		t.Errorf("enqueued %d", n)
	}
	if client.calls != 0 || p.Stats.KLine.Errors.Load() != 1 {
		t.Errorf("calls %d errors %d", client.calls, p.Stats.KLine.Errors.Load())
	}
}

// ============================================================
// Statistics / Mode
// ============================================================

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.CAN.Frames.Add(10)
	s.LIN.Dropped.Add(2)
	out := s.String()
	if !strings.Contains(out, "can    frames       10") || !strings.Contains(out, "dropped 2") {
		t.Errorf("String = %q", out)
	}
	s.Reset()
	if s.CAN.Frames.Load() != 0 || s.LIN.Dropped.Load() != 0 {
		t.Error("Reset left counters")
	}
}

func TestMode_String(t *testing.T) {
	var m Mode
	m.Debug.Store(true)
	if got := m.String(); got != "selftest=off debug=on trace=off" {
		t.Errorf("String = %q", got)
	}
}
