// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import "strings"

func (c *Processor) status([]string) error {
	if free, err := c.sink.FreeSpace(); err != nil {
		c.report("status", err)
	} else {
		c.con.Info("free space: %s", fmtKB(free))
	}

	m := c.p.Mode
	c.con.Info("selftest: %s | debug: %s | trace: %s",
		enabled(m.SelfTest.Load()), enabled(m.Debug.Load()), enabled(m.Trace.Load()))

	q := c.p.Queue
	c.con.Info("queue: %d/%d, drops since last status %d, total %d",
		q.Len(), q.Cap(), q.TakeDrops(), q.Dropped())

	if path, ok := c.sink.Active(); ok {
		c.con.Info("logging to %s", path)
	} else {
		c.con.Info("logging off")
	}
	return nil
}

func (c *Processor) stats(args []string) error {
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "reset"):
		c.p.Stats.Reset()
		c.con.Info("statistics reset")
		return nil
	case len(args) != 0:
		return usage("stats [reset]")
	}

	for _, line := range c.p.Stats.Lines() {
		c.con.Info("%s", line)
	}
	s := c.sink.Stats()
	c.con.Info("log records %d bytes %d write errors %d", s.Records, s.Bytes, s.Errors)
	c.con.Info("frames in flight %d", c.p.Pool.Outstanding())
	if n := c.con.Skipped(); n > 0 {
		c.con.Info("console lines skipped %d", n)
	}
	return nil
}
