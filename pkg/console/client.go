// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Download framing lines
const (
	DownloadStartFormat    = "download start %s %d"
	DownloadCompleteFormat = "download complete %s %d"
)

var (
	ErrLineTooLong = errors.New("console: line too long")
	ErrNoTransfer  = errors.New("console: node did not start the transfer")
)

// RemoteError is an |error: line received in answer to a command
type RemoteError struct {
	Command string
	Text    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Text)
}

// Stream reads the node's outbound traffic: prefixed lines, and the raw
// bytes of a download between its start and complete lines
type Stream struct {
	r *bufio.Reader
}

// NewStream creates a stream on r
func NewStream(r io.Reader) *Stream {
	return &Stream{r: bufio.NewReaderSize(r, 4096)}
}

// ReadLine reads and parses one line
func (s *Stream) ReadLine() (Line, error) {
	var sb strings.Builder
	for {
		chunk, err := s.r.ReadSlice('\n')
		sb.Write(chunk)
		if sb.Len() > MaxLineLength+2 {
			return Line{}, ErrLineTooLong
		}
		switch {
		case err == nil:
			return Parse(sb.String()), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && sb.Len() > 0:
			return Parse(sb.String()), nil
		default:
			return Line{}, err
		}
	}
}

// ReadRaw copies exactly n raw bytes to w
func (s *Stream) ReadRaw(w io.Writer, n int64) (int64, error) {
	m, err := io.CopyN(w, s.r, n)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return m, err
}

// ParseDownloadStart matches a download start line
func ParseDownloadStart(l Line) (path string, size int64, ok bool) {
	return parseTransfer(l, DownloadStartFormat)
}

// ParseDownloadComplete matches a download complete line
func ParseDownloadComplete(l Line) (path string, n int64, ok bool) {
	return parseTransfer(l, DownloadCompleteFormat)
}

func parseTransfer(l Line, format string) (string, int64, bool) {
	if l.Kind != LineInfo {
		return "", 0, false
	}
	var path string
	var n int64
	if _, err := fmt.Sscanf(l.Text, format, &path, &n); err != nil || n < 0 {
		return "", 0, false
	}
	return path, n, true
}

// Client drives the node console from the operator side. Send may be
// called from any goroutine; reads belong to one goroutine.
type Client struct {
	wmu sync.Mutex
	w   io.Writer

	*Stream
}

// NewClient creates a client on a connection to the node console
func NewClient(rw io.ReadWriter) *Client {
	return &Client{w: rw, Stream: NewStream(rw)}
}

// Send writes one command line
func (c *Client) Send(command string) error {
	command = strings.ReplaceAll(strings.TrimSpace(command), "\n", " ")
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.w, command+"\n")
	return err
}

// Download asks the node for name and copies the file to w. Lines that
// arrive before the transfer starts, other than the command's own answer,
// are passed to other when it is non-nil.
func (c *Client) Download(name string, w io.Writer, other func(Line)) (int64, error) {
	command := "download " + name
	if err := c.Send(command); err != nil {
		return 0, err
	}

	var path string
	var size int64
	for {
		l, err := c.ReadLine()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoTransfer, err)
		}
		if l.Kind == LineInfo && l.Text == "command:"+command {
			continue
		}
		if p, n, ok := ParseDownloadStart(l); ok {
			path, size = p, n
			break
		}
		if l.Kind == LineError && answersDownload(l.Text) {
			return 0, &RemoteError{Command: command, Text: l.Text}
		}
		if other != nil {
			other(l)
		}
	}

	n, err := c.ReadRaw(w, size)
	if err != nil {
		return n, fmt.Errorf("download %s: %w after %d of %d bytes", path, err, n, size)
	}

	l, err := c.ReadLine()
	if err != nil {
		return n, fmt.Errorf("download %s: %w", path, err)
	}
	if l.Kind == LineError {
		return n, &RemoteError{Command: command, Text: l.Text}
	}
	if _, sent, ok := ParseDownloadComplete(l); !ok || sent != n {
		return n, fmt.Errorf("download %s: unexpected trailer %q", path, l.Text)
	}
	return n, nil
}

// answersDownload matches the error lines the download command itself
// produces, as opposed to dispatcher errors arriving meanwhile
func answersDownload(text string) bool {
	return strings.HasPrefix(text, "download ") ||
		strings.HasPrefix(text, "usage: download") ||
		text == "storage not mounted"
}
