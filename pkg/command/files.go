// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import (
	"strings"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/storage"
)

func (c *Processor) ls(args []string) error {
	dir := "/"
	if len(args) > 0 {
		dir = args[0]
	}
	entries, err := c.sink.List(dir, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			c.con.Info("DIR : %s", e.Name)
		} else {
			c.con.Info("FILE: %s SIZE: %d", e.Name, e.Size)
		}
	}
	c.con.Info("%d entries in %s", len(entries), storage.NormalizePath(dir))
	return nil
}

// download streams the file framed by start and complete lines. The
// console is held for the whole transfer so no other line lands inside
// the raw bytes.
func (c *Processor) download(args []string) error {
	if len(args) != 1 {
		return usage("download <filename>")
	}
	path := storage.NormalizePath(args[0])
	if !c.sink.Mounted() {
		return storage.ErrNotMounted
	}

	return c.con.Exclusive(func(tx *console.Tx) error {
		n, err := c.sink.Download(path, tx, func(size int64) {
			tx.Info(console.DownloadStartFormat, path, size)
		})
		if err != nil {
			tx.Error("download %s: %v", path, err)
			return nil
		}
		tx.Info(console.DownloadCompleteFormat, path, n)
		return nil
	})
}

func (c *Processor) del(args []string) error {
	if len(args) != 1 {
		return usage("del <filename>")
	}
	path := storage.NormalizePath(args[0])
	if err := c.sink.Delete(path); err != nil {
		return err
	}
	c.con.Info("deleted %s", path)
	return nil
}

func (c *Processor) mkdir(args []string) error {
	if len(args) != 1 {
		return usage("mkdir <dir>")
	}
	path := storage.NormalizePath(args[0])
	if err := c.sink.Mkdir(path); err != nil {
		return err
	}
	c.con.Info("created %s", path)
	return nil
}

func (c *Processor) rmdir(args []string) error {
	if len(args) != 1 {
		return usage("rmdir <dir>")
	}
	path := storage.NormalizePath(args[0])
	if err := c.sink.Rmdir(path); err != nil {
		return err
	}
	c.con.Info("removed %s", path)
	return nil
}

func (c *Processor) mv(args []string) error {
	if len(args) != 2 {
		return usage("mv <from> <to>")
	}
	from, to := storage.NormalizePath(args[0]), storage.NormalizePath(args[1])
	if err := c.sink.Rename(from, to); err != nil {
		return err
	}
	c.con.Info("renamed %s to %s", from, to)
	return nil
}

func (c *Processor) log(args []string) error {
	if len(args) != 1 {
		return usage("log start|stop")
	}
	switch strings.ToLower(args[0]) {
	case "start":
		name, err := c.sink.StartSession()
		if err != nil {
			return err
		}
		c.con.Info("logging to %s", name)
		if sess, ok := c.sink.Session(); ok {
			c.con.Info("session %s", sess.ID)
		}
	case "stop":
		if err := c.sink.CloseSession(); err != nil {
			return err
		}
		c.con.Info("logging stopped")
	default:
		return usage("log start|stop")
	}
	return nil
}
