// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package console

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/Thermoquad/carinspector/pkg/frame"
)

// MaxLineLength bounds one inbound line
const MaxLineLength = 1024

// LineReader reads newline-terminated lines, dropping the terminator and
// any carriage return. A line longer than MaxLineLength is discarded up to
// its newline and reported as ErrLineTooLong; the next call reads the
// following line.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader creates a reader on r
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, MaxLineLength+2)}
}

// ReadLine blocks until a line arrives. It returns io.EOF when the
// transport closes.
func (l *LineReader) ReadLine() (string, error) {
	line, err := l.r.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return "", l.skipLine()
	case errors.Is(err, io.EOF) && len(line) > 0:
	default:
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (l *LineReader) skipLine() error {
	for {
		_, err := l.r.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, errors.Is(err, io.EOF):
			return ErrLineTooLong
		default:
			return err
		}
	}
}

// LineKind classifies an outbound line on the operator side
type LineKind int

const (
	LineText LineKind = iota
	LineInfo
	LineError
	LineData
)

func (k LineKind) String() string {
	switch k {
	case LineInfo:
		return "info"
	case LineError:
		return "error"
	case LineData:
		return "data"
	default:
		return "text"
	}
}

// Line is a parsed outbound line
type Line struct {
	Kind LineKind
	Bus  frame.Kind // LineData only
	Text string
}

// Parse splits a received line into its prefix and text. Lines without a
// known prefix are LineText.
func Parse(s string) Line {
	s = strings.TrimRight(s, "\r\n")
	switch {
	case strings.HasPrefix(s, PrefixInfo):
		return Line{Kind: LineInfo, Text: s[len(PrefixInfo):]}
	case strings.HasPrefix(s, PrefixError):
		return Line{Kind: LineError, Text: s[len(PrefixError):]}
	case strings.HasPrefix(s, prefixData):
		for _, k := range []frame.Kind{frame.KindCAN, frame.KindLIN, frame.KindKLine} {
			if p := DataPrefix(k); strings.HasPrefix(s, p) {
				return Line{Kind: LineData, Bus: k, Text: s[len(p):]}
			}
		}
	}
	return Line{Kind: LineText, Text: s}
}
