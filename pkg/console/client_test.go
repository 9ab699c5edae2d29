// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package console

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// scripted replays a fixed node transcript and records what was sent
type scripted struct {
	in  io.Reader
	out bytes.Buffer
}

func (s *scripted) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scripted) Write(p []byte) (int, error) { return s.out.Write(p) }

func newScripted(transcript string) *scripted {
	return &scripted{in: strings.NewReader(transcript)}
}

func TestStream_ReadLine(t *testing.T) {
	s := NewStream(strings.NewReader("|info:hello\r\n|data-kline:C1 EF 8F\nno newline"))

	want := []Line{
		{Kind: LineInfo, Text: "hello"},
		{Kind: LineData, Bus: frame.KindKLine, Text: "C1 EF 8F"},
		{Kind: LineText, Text: "no newline"},
	}
	for i, w := range want {
		got, err := s.ReadLine()
		if err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if got != w {
			t.Errorf("line %d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := s.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestStream_LineTooLong(t *testing.T) {
	s := NewStream(strings.NewReader(strings.Repeat("x", 5000) + "\n"))
	if _, err := s.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("err = %v", err)
	}
}

func TestParseDownloadLines(t *testing.T) {
	path, size, ok := ParseDownloadStart(Parse("|info:download start /log_1.cil 1500"))
	if !ok || path != "/log_1.cil" || size != 1500 {
		t.Errorf("start = %q %d %v", path, size, ok)
	}
	if _, _, ok := ParseDownloadStart(Parse("|error:download start /x 1")); ok {
		t.Error("error line accepted as start")
	}
	if _, _, ok := ParseDownloadComplete(Parse("|info:download complete /x")); ok {
		t.Error("trailer without count accepted")
	}
}

func TestClient_Download(t *testing.T) {
	payload := bytes.Repeat([]byte{0x7E, '\n', 0x00, '|'}, 300)
	node := newScripted("|data-can:123 [1] 01\n" +
		"|info:command:download a.cil\n" +
		"|info:download start /a.cil 1200\n" +
		string(payload) +
		"|info:download complete /a.cil 1200\n")

	c := NewClient(node)
	var got bytes.Buffer
	var others []Line
	n, err := c.Download("a.cil", &got, func(l Line) { others = append(others, l) })
	if err != nil {
		t.Fatal(err)
	}
	if n != 1200 || !bytes.Equal(got.Bytes(), payload) {
		t.Errorf("got %d bytes", n)
	}
	if node.out.String() != "download a.cil\n" {
		t.Errorf("sent %q", node.out.String())
	}
	if len(others) != 1 || others[0].Kind != LineData {
		t.Errorf("others = %+v", others)
	}
}

func TestClient_DownloadSkipsUnrelatedErrors(t *testing.T) {
	transcript := "|info:command:download a\n" +
		"|error:queue full, dropped can frame\n" +
		"|error:storage: write failed\n" +
		"|info:download start /a 3\nabc|info:download complete /a 3\n"
	c := NewClient(newScripted(transcript))

	var others []string
	var buf bytes.Buffer
	n, err := c.Download("a", &buf, func(l Line) { others = append(others, l.Text) })
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != 3 || buf.String() != "abc" {
		t.Errorf("downloaded %d bytes %q", n, buf.String())
	}
	if len(others) != 2 || others[0] != "queue full, dropped can frame" {
		t.Errorf("other lines = %q", others)
	}
}

func TestClient_DownloadErrors(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		remote     bool
	}{
		{"missing file", "|info:command:download a\n|error:download /a: /a: not found\n", true},
		{"not mounted", "|info:command:download a\n|error:storage not mounted\n", true},
		{"usage", "|info:command:download a\n|error:usage: download <filename>\n", true},
		{"truncated", "|info:download start /a 10\n12345", false},
		{"aborted", "|info:download start /a 2\nxx|error:download /a: io\n", true},
		{"closed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(newScripted(tt.transcript))
			_, err := c.Download("a", io.Discard, nil)
			if err == nil {
				t.Fatal("Download succeeded")
			}
			var re *RemoteError
			if errors.As(err, &re) != tt.remote {
				t.Errorf("err = %v, remote = %v", err, !tt.remote)
			}
		})
	}
}
