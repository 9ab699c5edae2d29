// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Queue.Capacity != 1000 {
		t.Errorf("capacity = %d", cfg.Queue.Capacity)
	}
	if cfg.Queue.EnqueueTimeout.D() != time.Millisecond {
		t.Errorf("enqueue timeout = %v", cfg.Queue.EnqueueTimeout.D())
	}
	if cfg.SelfTest.ProbeID != 0x7FF || cfg.SelfTest.Interval.D() != time.Second {
		t.Errorf("selftest = %+v", cfg.SelfTest)
	}
	if got := cfg.KLine.KLinePIDs(); !bytes.Equal(got, []byte{0x02, 0x04, 0x06}) {
		t.Errorf("pids = % X", got)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
node: bench-1
queue:
  capacity: 64
  enqueue_timeout: 2ms
storage:
  root: /tmp/card
  autostart: false
can:
  driver: virtual
lin:
  port: /dev/ttyS1
  framing: window
  checksum: enhanced
kline:
  port: /dev/ttyS2
  pids: [0x02]
  interval: 30s
mode:
  debug: true
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Node != "bench-1" || cfg.Queue.Capacity != 64 {
		t.Errorf("node/capacity = %s/%d", cfg.Node, cfg.Queue.Capacity)
	}
	if cfg.Queue.EnqueueTimeout.D() != 2*time.Millisecond {
		t.Errorf("enqueue timeout = %v", cfg.Queue.EnqueueTimeout.D())
	}
	// untouched keys keep their defaults
	if cfg.Queue.DequeueTimeout.D() != time.Millisecond || cfg.Storage.Prefix != "log_" {
		t.Errorf("defaults lost: %+v %+v", cfg.Queue, cfg.Storage)
	}
	if cfg.Storage.Autostart {
		t.Error("autostart not overridden")
	}
	if cfg.LIN.Framing != "window" || cfg.LIN.Checksum != "enhanced" || cfg.LIN.Baud != 19200 {
		t.Errorf("lin = %+v", cfg.LIN)
	}
	if !reflect.DeepEqual(cfg.KLine.PIDs, []int{2}) || cfg.KLine.Interval.D() != 30*time.Second {
		t.Errorf("kline = %+v", cfg.KLine)
	}
	if !cfg.Mode.Debug || cfg.Mode.SelfTest {
		t.Errorf("mode = %+v", cfg.Mode)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Error("empty document changed the defaults")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "queue:\n  depth: 3\n", "depth"},
		{"bad duration", "queue:\n  enqueue_timeout: soon\n", "line 2"},
		{"duration without unit", "selftest:\n  interval: 1000\n", "missing unit"},
		{"zero capacity", "queue:\n  capacity: 0\n", "queue.capacity"},
		{"negative timeout", "queue:\n  dequeue_timeout: -1ms\n", "negative"},
		{"unknown driver", "can:\n  driver: slcan\n", "can.driver"},
		{"socketcan without interface", "can:\n  interface: \"\"\n", "can.interface"},
		{"bad framing", "lin:\n  port: /dev/x\n  framing: bytes\n", "framing"},
		{"bad checksum", "lin:\n  port: /dev/x\n  checksum: crc\n", "checksum"},
		{"pid out of range", "kline:\n  port: /dev/x\n  pids: [256]\n", "pid 256"},
		{"no pids", "kline:\n  port: /dev/x\n  pids: []\n", "pids"},
		{"probe id too wide", "selftest:\n  probe_id: 0x800\n", "11 bits"},
		{"prefix with slash", "storage:\n  prefix: a/b\n", "prefix"},
		{"no root", "storage:\n  root: \"\"\n", "storage.root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDisabledBusesSkipValidation(t *testing.T) {
	cfg := Default()
	cfg.LIN.Framing = "bogus"
	cfg.KLine.PIDs = nil
	cfg.CAN.Driver = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled buses validated: %v", err)
	}
}

func TestEncode_LoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Node = "garage"
	cfg.KLine.Interval = Duration(90 * time.Second)
	cfg.Mode.Trace = true

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "interval: 1m30s") {
		t.Errorf("durations not written as strings:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "carinspector.yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}
