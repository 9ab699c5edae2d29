// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/carinspector/pkg/lin"
)

// Validate checks ranges and cross-field requirements
func Validate(cfg *Config) error {
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be > 0")
	}
	if cfg.Queue.EnqueueTimeout < 0 || cfg.Queue.DequeueTimeout < 0 {
		return fmt.Errorf("queue timeouts must not be negative")
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be > 0")
	}

	if cfg.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if strings.ContainsAny(cfg.Storage.Prefix, `/\`) {
		return fmt.Errorf("storage.prefix must not contain a path separator")
	}

	switch cfg.CAN.Driver {
	case "":
	case "socketcan":
		if cfg.CAN.Interface == "" {
			return fmt.Errorf("can.interface is required for socketcan")
		}
	case "virtual":
	default:
		return fmt.Errorf("can.driver %q: want socketcan or virtual", cfg.CAN.Driver)
	}

	if err := validateLIN(cfg.LIN); err != nil {
		return fmt.Errorf("lin: %w", err)
	}
	if err := validateKLine(cfg.KLine); err != nil {
		return fmt.Errorf("kline: %w", err)
	}

	if cfg.Console.Port != "" && cfg.Console.Baud <= 0 {
		return fmt.Errorf("console.baud must be > 0")
	}

	if cfg.SelfTest.ProbeID > 0x7FF {
		return fmt.Errorf("selftest.probe_id 0x%X exceeds 11 bits", cfg.SelfTest.ProbeID)
	}
	if cfg.SelfTest.Interval <= 0 {
		return fmt.Errorf("selftest.interval must be > 0")
	}
	return nil
}

func validateLIN(c LINConfig) error {
	if c.Port == "" {
		return nil
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be > 0")
	}
	if c.Framing != "frame" && c.Framing != "window" {
		return fmt.Errorf("framing %q: want frame or window", c.Framing)
	}
	if _, err := lin.ParseChecksumModel(c.Checksum); err != nil {
		return err
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be > 0")
	}
	return nil
}

func validateKLine(c KLineConfig) error {
	if c.Port == "" {
		return nil
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be > 0")
	}
	if c.Target < 0 || c.Target > 0xFF || c.Tester < 0 || c.Tester > 0xFF {
		return fmt.Errorf("target and tester must be single bytes")
	}
	if len(c.PIDs) == 0 {
		return fmt.Errorf("pids must not be empty")
	}
	for _, pid := range c.PIDs {
		if pid < 0 || pid > 0xFF {
			return fmt.Errorf("pid %d out of range", pid)
		}
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	return nil
}

// KLinePIDs returns the configured PIDs as bytes
func (c KLineConfig) KLinePIDs() []byte {
	pids := make([]byte, len(c.PIDs))
	for i, p := range c.PIDs {
		pids[i] = byte(p)
	}
	return pids
}
