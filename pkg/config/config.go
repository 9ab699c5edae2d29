// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the capture node configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration
type Config struct {
	// Node names this capture node in log session headers
	Node     string         `yaml:"node"`
	Queue    QueueConfig    `yaml:"queue"`
	Storage  StorageConfig  `yaml:"storage"`
	CAN      CANConfig      `yaml:"can"`
	LIN      LINConfig      `yaml:"lin"`
	KLine    KLineConfig    `yaml:"kline"`
	Console  ConsoleConfig  `yaml:"console"`
	SelfTest SelfTestConfig `yaml:"selftest"`
	Mode     ModeConfig     `yaml:"mode"`
}

// QueueConfig sizes the transfer queue and the loop timing around it
type QueueConfig struct {
	Capacity       int      `yaml:"capacity"`
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`
	DequeueTimeout Duration `yaml:"dequeue_timeout"`
	PollInterval   Duration `yaml:"poll_interval"`
}

// StorageConfig points at the mounted medium
type StorageConfig struct {
	Root      string `yaml:"root"`
	Prefix    string `yaml:"prefix"`
	Autostart bool   `yaml:"autostart"` // open a log session at startup
}

// CANConfig selects the CAN controller. An empty driver disables CAN.
type CANConfig struct {
	Driver    string `yaml:"driver"` // socketcan, virtual
	Interface string `yaml:"interface"`
}

// LINConfig describes the LIN UART. An empty port disables LIN.
type LINConfig struct {
	Port        string   `yaml:"port"`
	Baud        int      `yaml:"baud"`
	Framing     string   `yaml:"framing"`  // frame, window
	Checksum    string   `yaml:"checksum"` // classic, enhanced
	ReadTimeout Duration `yaml:"read_timeout"`
}

// KLineConfig describes the K-Line UART. An empty port disables K-Line.
type KLineConfig struct {
	Port     string   `yaml:"port"`
	Baud     int      `yaml:"baud"`
	Echo     bool     `yaml:"echo"`
	Target   int      `yaml:"target"`
	Tester   int      `yaml:"tester"`
	PIDs     []int    `yaml:"pids"`
	Interval Duration `yaml:"interval"` // zero queries once at start
}

// ConsoleConfig selects the console transport. An empty port uses stdio.
type ConsoleConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// SelfTestConfig tunes the loopback prober
type SelfTestConfig struct {
	ProbeID  uint32   `yaml:"probe_id"`
	Interval Duration `yaml:"interval"`
}

// ModeConfig is the operating mode at startup
type ModeConfig struct {
	SelfTest bool `yaml:"selftest"`
	Debug    bool `yaml:"debug"`
	Trace    bool `yaml:"trace"`
}

// Default returns the node defaults
func Default() *Config {
	return &Config{
		Node: "carinspector",
		Queue: QueueConfig{
			Capacity:       1000,
			EnqueueTimeout: Duration(time.Millisecond),
			DequeueTimeout: Duration(time.Millisecond),
			PollInterval:   Duration(time.Millisecond),
		},
		Storage: StorageConfig{
			Root:      "/media/sd",
			Prefix:    "log_",
			Autostart: true,
		},
		CAN: CANConfig{
			Driver:    "socketcan",
			Interface: "can0",
		},
		LIN: LINConfig{
			Baud:        19200,
			Framing:     "frame",
			Checksum:    "classic",
			ReadTimeout: Duration(time.Millisecond),
		},
		KLine: KLineConfig{
			Baud:   10400,
			Echo:   true,
			Target: 0x33,
			Tester: 0xF1,
			PIDs:   []int{0x02, 0x04, 0x06},
		},
		Console: ConsoleConfig{
			Baud: 115200,
		},
		SelfTest: SelfTestConfig{
			ProbeID:  0x7FF,
			Interval: Duration(time.Second),
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Encode writes cfg as YAML
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Duration is a time.Duration written as a string such as "1ms"
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
