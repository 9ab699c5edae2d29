// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package command implements the console command processor. Each inbound
// line is parsed and dispatched on its own; only the operating mode
// survives between lines.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/node"
	"github.com/Thermoquad/carinspector/pkg/storage"
)

// HelpText is the one-line command summary
const HelpText = "commands: help, ls [dir], download <file>, del <file>, mkdir <dir>, rmdir <dir>, " +
	"mv <from> <to>, log start|stop, status, stats [reset], selftest on|off, debug on|off, trace on|off, exit"

// ErrUsage marks a command with missing or bad arguments
var ErrUsage = errors.New("usage")

// Processor runs commands against the pipeline and the storage sink
type Processor struct {
	p    *node.Pipeline
	sink *storage.Sink
	con  *console.Console

	handlers map[string]handler
}

type handler func(args []string) error

// New creates a processor. sink may be unmounted.
func New(p *node.Pipeline, sink *storage.Sink) *Processor {
	c := &Processor{p: p, sink: sink, con: p.Console}
	c.handlers = map[string]handler{
		"help":     c.help,
		"ls":       c.ls,
		"download": c.download,
		"del":      c.del,
		"mkdir":    c.mkdir,
		"rmdir":    c.rmdir,
		"mv":       c.mv,
		"log":      c.log,
		"status":   c.status,
		"stats":    c.stats,
		"selftest": c.toggle(&p.Mode.SelfTest, "selftest"),
		"debug":    c.toggle(&p.Mode.Debug, "debug"),
		"trace":    c.toggle(&p.Mode.Trace, "trace"),
	}
	return c
}

// Run reads lines from r until exit, EOF or ctx is done. Cancellation is
// noticed between lines.
func (c *Processor) Run(ctx context.Context, r io.Reader) error {
	lines := console.NewLineReader(r)
	for ctx.Err() == nil {
		line, err := lines.ReadLine()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, console.ErrLineTooLong) {
			c.con.Error("line too long")
			continue
		}
		if err != nil {
			return err
		}
		if c.Execute(line) {
			return nil
		}
	}
	return nil
}

// Execute parses and dispatches one line. It returns true for exit.
func (c *Processor) Execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	c.con.Info("command:%s", line)

	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if name == "exit" {
		c.p.Mode.SelfTest.Store(false)
		c.con.Info("bye")
		return true
	}

	h, ok := c.handlers[name]
	if !ok {
		c.help(nil)
		return false
	}
	if err := h(args); err != nil {
		c.report(name, err)
	}
	return false
}

func (c *Processor) report(name string, err error) {
	var usage *usageError
	switch {
	case errors.As(err, &usage):
		if usage.text == "" {
			c.help(nil)
			return
		}
		c.con.Error("usage: %s", usage.text)
	case errors.Is(err, storage.ErrNotMounted):
		c.con.Error("storage not mounted")
	default:
		c.con.Error("%s: %v", name, err)
	}
}

type usageError struct {
	text string
}

func (e *usageError) Error() string { return "usage: " + e.text }
func (e *usageError) Unwrap() error { return ErrUsage }

func usage(text string) error {
	return &usageError{text: text}
}

func (c *Processor) help([]string) error {
	c.con.Info("%s", HelpText)
	return nil
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, usage("")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, usage("")
}

type flag interface {
	Store(bool)
}

func (c *Processor) toggle(f flag, name string) handler {
	return func(args []string) error {
		on, err := parseOnOff(args)
		if err != nil {
			return err
		}
		f.Store(on)
		c.con.Info("%s %s", name, onOff(on))
		return nil
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func fmtKB(n uint64) string {
	return fmt.Sprintf("%.2f KB", float64(n)/1024.0)
}
