// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package console implements the node's line-oriented text protocol.
//
// Outbound lines carry a prefix so the operator side can demultiplex them:
//
//	|info:<text>
//	|error:<text>
//	|data-can:<frame>   |data-lin:<hex>   |data-kline:<hex>
//
// Inbound lines are commands.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// Line prefixes
const (
	PrefixInfo  = "|info:"
	PrefixError = "|error:"
	prefixData  = "|data-"
)

// DataPrefix returns the data line prefix for a bus kind
func DataPrefix(k frame.Kind) string {
	return prefixData + k.String() + ":"
}

// Console serializes writes from every goroutine onto one transport, one
// whole line at a time
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	err error

	skipped atomic.Uint64
}

// New creates a console writing to w
func New(w io.Writer) *Console {
	return &Console{w: w}
}

// Info writes an |info: line
func (c *Console) Info(format string, args ...interface{}) {
	c.line(PrefixInfo, fmt.Sprintf(format, args...))
}

// Error writes an |error: line
func (c *Console) Error(format string, args ...interface{}) {
	c.line(PrefixError, fmt.Sprintf(format, args...))
}

// Data writes a data line for kind
func (c *Console) Data(kind frame.Kind, text string) {
	c.line(DataPrefix(kind), text)
}

// TryData writes a data line unless the console is busy, in which case
// the line is counted as skipped. It never blocks on a raw transfer.
func (c *Console) TryData(kind frame.Kind, text string) bool {
	return c.tryLine(DataPrefix(kind), text)
}

// TryError is the non-blocking form of Error
func (c *Console) TryError(format string, args ...interface{}) bool {
	return c.tryLine(PrefixError, fmt.Sprintf(format, args...))
}

// Skipped returns the number of lines dropped by TryData and TryError
func (c *Console) Skipped() uint64 {
	return c.skipped.Load()
}

func (c *Console) tryLine(prefix, text string) bool {
	if !c.mu.TryLock() {
		c.skipped.Add(1)
		return false
	}
	defer c.mu.Unlock()
	c.writeLine(prefix, text)
	return true
}

func (c *Console) line(prefix, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLine(prefix, text)
}

func (c *Console) writeLine(prefix, text string) {
	// one line per call, embedded newlines would break demultiplexing
	text = strings.ReplaceAll(text, "\n", " ")
	if _, err := io.WriteString(c.w, prefix+text+"\n"); err != nil {
		c.err = err
	}
}

// Err returns the last transport write error
func (c *Console) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Exclusive runs fn with the console locked, so nothing else is written
// until fn returns. Used for raw transfers. Blocking writers wait; the
// Try writers skip their line instead.
func (c *Console) Exclusive(fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&Tx{c: c})
}

// Tx writes to a console held by Exclusive
type Tx struct {
	c *Console
}

func (t *Tx) Info(format string, args ...interface{}) {
	t.c.writeLine(PrefixInfo, fmt.Sprintf(format, args...))
}

func (t *Tx) Error(format string, args ...interface{}) {
	t.c.writeLine(PrefixError, fmt.Sprintf(format, args...))
}

// Write passes raw bytes to the transport
func (t *Tx) Write(p []byte) (int, error) {
	n, err := t.c.w.Write(p)
	if err != nil {
		t.c.err = err
	}
	return n, err
}
