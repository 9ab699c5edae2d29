// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Port is the UART the client talks through. go.bug.st/serial ports
// satisfy it.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	Break(d time.Duration) error
}

// Options configures bus timing
type Options struct {
	Target byte
	Tester byte

	// Echo is set when the UART hears its own transmission (single wire)
	Echo bool

	ByteInterval     time.Duration
	InterByteTimeout time.Duration
	ReadTimeout      time.Duration
}

// DefaultOptions returns the timing used by OBD2 K-Line adapters
func DefaultOptions() Options {
	return Options{
		Target:           DefaultTarget,
		Tester:           DefaultTester,
		Echo:             true,
		ByteInterval:     5 * time.Millisecond,
		InterByteTimeout: 60 * time.Millisecond,
		ReadTimeout:      time.Second,
	}
}

// Fast init timing (ISO 14230-2)
const (
	wakeupLow  = 25 * time.Millisecond
	wakeupHigh = 25 * time.Millisecond
)

// Client issues requests over one K-Line. Calls are serialized.
type Client struct {
	port Port
	opts Options

	mu          sync.Mutex
	initialized bool

	sleep func(time.Duration)
}

// NewClient creates a client on an open port
func NewClient(port Port, opts Options) *Client {
	return &Client{port: port, opts: opts, sleep: time.Sleep}
}

// Init performs the fast init wake-up pattern followed by
// StartCommunication
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.initialized = false
	if err := c.port.Break(wakeupLow); err != nil {
		return fmt.Errorf("kline: wake-up: %w", err)
	}
	c.sleep(wakeupHigh)

	msg, err := c.exchange(ctx, FormatFunctional, []byte{ServiceStartCommunication})
	if err != nil {
		return fmt.Errorf("kline: start communication: %w", err)
	}
	if err := checkPositive(ServiceStartCommunication, msg); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Initialized reports whether Init succeeded
func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Request sends service with data and returns the positive response
func (c *Client) Request(ctx context.Context, service byte, data ...byte) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, ErrNotInitialized
	}
	msg, err := c.exchange(ctx, FormatFunctional, append([]byte{service}, data...))
	if err != nil {
		if errors.Is(err, ErrNoResponse) {
			c.initialized = false
		}
		return nil, err
	}
	if err := checkPositive(service, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// VehicleInfo runs an OBD mode 09 query. It returns the response message
// and the information bytes following the PID and item count.
func (c *Client) VehicleInfo(ctx context.Context, pid byte) (*Message, []byte, error) {
	msg, err := c.Request(ctx, ServiceVehicleInfo, pid)
	if err != nil {
		return nil, nil, err
	}
	d := msg.Data
	if len(d) < 2 || d[1] != pid {
		return msg, nil, fmt.Errorf("%w: vehicle info for pid 0x%02X", ErrMalformed, pid)
	}
	info := d[2:]
	// mode 09 responses carry an item count ahead of the data
	if len(info) > 0 && pid != 0x00 {
		info = info[1:]
	}
	return msg, info, nil
}

func checkPositive(service byte, msg *Message) error {
	d := msg.Data
	if d[0] == NegativeResponseID {
		nr := &NegativeResponse{}
		if len(d) > 1 {
			nr.Service = d[1]
		}
		if len(d) > 2 {
			nr.Code = d[2]
		}
		return nr
	}
	if d[0] != service+positiveOffset {
		return fmt.Errorf("%w: response 0x%02X to service 0x%02X", ErrMalformed, d[0], service)
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, format byte, data []byte) (*Message, error) {
	req, err := Encode(format, c.opts.Target, c.opts.Tester, data)
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, req); err != nil {
		return nil, err
	}
	if c.opts.Echo {
		echo, err := c.readN(ctx, len(req), c.opts.ReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEcho, err)
		}
		if !bytes.Equal(echo, req) {
			return nil, fmt.Errorf("%w: sent % X, heard % X", ErrEcho, req, echo)
		}
	}
	return c.readMessage(ctx)
}

func (c *Client) write(ctx context.Context, b []byte) error {
	if c.opts.ByteInterval <= 0 {
		_, err := c.port.Write(b)
		return err
	}
	for i := range b {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.port.Write(b[i : i+1]); err != nil {
			return err
		}
		if i < len(b)-1 {
			c.sleep(c.opts.ByteInterval)
		}
	}
	return nil
}

func (c *Client) readMessage(ctx context.Context) (*Message, error) {
	head, err := c.readN(ctx, 1, c.opts.ReadTimeout)
	if err != nil {
		return nil, err
	}
	hdrRest := 2
	if head[0]&maxShortLen == 0 {
		hdrRest = 3
	}
	rest, err := c.readN(ctx, hdrRest, c.opts.InterByteTimeout)
	if err != nil {
		return nil, err
	}
	raw := append(head, rest...)

	n := int(raw[0] & maxShortLen)
	if n == 0 {
		n = int(raw[3])
	}
	body, err := c.readN(ctx, n+1, c.opts.InterByteTimeout)
	if err != nil {
		return nil, err
	}
	return Decode(append(raw, body...))
}

// readN reads exactly n bytes. The first byte may take up to first; the
// rest use the inter-byte timeout.
func (c *Client) readN(ctx context.Context, n int, first time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	timeout := first
	for got < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return nil, err
		}
		m, err := c.port.Read(buf[got:])
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if m == 0 {
			return nil, fmt.Errorf("%w after %d of %d bytes", ErrNoResponse, got, n)
		}
		got += m
		timeout = c.opts.InterByteTimeout
	}
	return buf, nil
}
