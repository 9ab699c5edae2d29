// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/framelog"
)

// ChunkSize is the largest piece a download writes at once
const ChunkSize = 512

// LogExt is the extension of frame log files
const LogExt = ".cil"

// Entry is one listed file or directory
type Entry struct {
	Name     string
	Path     string
	IsDir    bool
	Size     int64
	Children []Entry
}

// TransferError reports a download that stopped part way
type TransferError struct {
	Path string
	Sent int64
	Size int64
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("download %s aborted after %d of %d bytes: %v", e.Path, e.Sent, e.Size, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// SinkOptions configures log sessions
type SinkOptions struct {
	// Prefix is prepended to the session timestamp in log file names
	Prefix string
	// Node names this capture node in session headers
	Node string
}

// SinkStats counts appended records
type SinkStats struct {
	Records uint64
	Bytes   uint64
	Errors  uint64
}

// Sink owns the active log file and serializes every storage operation
// with one mutex
type Sink struct {
	fs   FS
	opts SinkOptions

	mu         sync.Mutex
	active     File
	activePath string
	session    framelog.Session
	stats      SinkStats

	now func() time.Time
}

// NewSink creates a sink on fsys. A nil fsys is an unmounted medium:
// every operation fails with ErrNotMounted.
func NewSink(fsys FS, opts SinkOptions) *Sink {
	return &Sink{fs: fsys, opts: opts, now: time.Now}
}

// Mounted reports whether the sink has a file system
func (s *Sink) Mounted() bool {
	return s.fs != nil
}

// StartSession opens a new log file and writes its session header. An
// already active session is closed first.
func (s *Sink) StartSession() (string, error) {
	if s.fs == nil {
		return "", ErrNotMounted
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		return "", err
	}

	sess := framelog.NewSession(s.opts.Node)
	sess.Start = s.now()
	base := "/" + s.opts.Prefix + sess.Start.Format("20060102_150405")
	name := base + LogExt
	for i := 1; s.fs.Exists(name); i++ {
		name = fmt.Sprintf("%s_%d%s", base, i, LogExt)
	}

	hdr, err := framelog.EncodeSession(sess)
	if err != nil {
		return "", err
	}
	f, err := s.fs.OpenAppend(name)
	if err != nil {
		return "", fmt.Errorf("open log %s: %w", name, err)
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return "", fmt.Errorf("write session header %s: %w", name, err)
	}

	s.active = f
	s.activePath = name
	s.session = sess
	s.stats.Bytes += uint64(len(hdr))
	return name, nil
}

// Active returns the active log path and whether a session is open
func (s *Sink) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePath, s.active != nil
}

// Session returns the active session header
func (s *Sink) Session() (framelog.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.active != nil
}

// CloseSession closes the active log file, if any
func (s *Sink) CloseSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Sink) closeLocked() error {
	if s.active == nil {
		return nil
	}
	err := s.active.Close()
	s.active = nil
	s.activePath = ""
	return err
}

// Append writes one frame record to the active log with a single write.
// The frame is only read.
func (s *Sink) Append(f *frame.Frame) error {
	rec, err := framelog.EncodeFrame(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ErrNoSession
	}
	if _, err := s.active.Write(rec); err != nil {
		s.stats.Errors++
		return fmt.Errorf("append %s: %w", s.activePath, err)
	}
	s.stats.Records++
	s.stats.Bytes += uint64(len(rec))
	return nil
}

// Stats returns the append counters
func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// List enumerates dir. Depth 0 lists only dir itself; each extra level
// fills Children of subdirectories.
func (s *Sink) List(dir string, depth int) ([]Entry, error) {
	if s.fs == nil {
		return nil, ErrNotMounted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(NormalizePath(dir), depth)
}

func (s *Sink) listLocked(dir string, depth int) ([]Entry, error) {
	des, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{
			Name:  de.Name(),
			Path:  path.Join(dir, de.Name()),
			IsDir: de.IsDir(),
		}
		if !e.IsDir {
			if info, err := de.Info(); err == nil {
				e.Size = info.Size()
			}
		} else if depth > 0 {
			children, err := s.listLocked(e.Path, depth-1)
			if err != nil {
				return nil, err
			}
			e.Children = children
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes a file. The active log cannot be deleted.
func (s *Sink) Delete(name string) error {
	if s.fs == nil {
		return ErrNotMounted
	}
	p := NormalizePath(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && p == s.activePath {
		return fmt.Errorf("%w: %s", ErrBusy, p)
	}
	return s.fs.Remove(p)
}

// Rename moves a file or directory. The active log cannot be renamed.
func (s *Sink) Rename(from, to string) error {
	if s.fs == nil {
		return ErrNotMounted
	}
	src, dst := NormalizePath(from), NormalizePath(to)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && src == s.activePath {
		return fmt.Errorf("%w: %s", ErrBusy, src)
	}
	return s.fs.Rename(src, dst)
}

func (s *Sink) Mkdir(name string) error {
	if s.fs == nil {
		return ErrNotMounted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.Mkdir(NormalizePath(name))
}

func (s *Sink) Rmdir(name string) error {
	if s.fs == nil {
		return ErrNotMounted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.Rmdir(NormalizePath(name))
}

// Stat returns the entry for one path
func (s *Sink) Stat(name string) (Entry, error) {
	if s.fs == nil {
		return Entry{}, ErrNotMounted
	}
	p := NormalizePath(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.fs.Stat(p)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: info.Name(), Path: p, IsDir: info.IsDir(), Size: info.Size()}, nil
}

// Download streams the file at name to w in chunks of at most ChunkSize
// bytes, one Write per chunk. The size is fixed when the file is opened,
// so a log that grows during the transfer is sent up to that point.
// started, when non-nil, receives the size before the first chunk.
//
// A missing file fails with ErrNotFound before anything is written; a
// failure part way returns a *TransferError.
func (s *Sink) Download(name string, w io.Writer, started func(size int64)) (int64, error) {
	if s.fs == nil {
		return 0, ErrNotMounted
	}
	p := NormalizePath(name)

	s.mu.Lock()
	f, size, err := s.openSnapshot(p)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if started != nil {
		started(size)
	}

	buf := make([]byte, ChunkSize)
	var sent int64
	for sent < size {
		n := int64(ChunkSize)
		if size-sent < n {
			n = size - sent
		}

		s.mu.Lock()
		m, err := f.ReadAt(buf[:n], sent)
		s.mu.Unlock()
		if int64(m) < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return sent, &TransferError{Path: p, Sent: sent, Size: size, Err: err}
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return sent, &TransferError{Path: p, Sent: sent, Size: size, Err: err}
		}
		sent += n
	}
	return sent, nil
}

func (s *Sink) openSnapshot(p string) (File, int64, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%w: %s", ErrIsDir, p)
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// FreeSpace returns the bytes available on the medium
func (s *Sink) FreeSpace() (uint64, error) {
	if s.fs == nil {
		return 0, ErrNotMounted
	}
	total, err := s.fs.TotalBytes()
	if err != nil {
		return 0, err
	}
	used, err := s.fs.UsedBytes()
	if err != nil {
		return 0, err
	}
	if used > total {
		return 0, nil
	}
	return total - used, nil
}

// ReadLog decodes a log file into its records. Decoded frames come from
// pool and belong to the caller.
func (s *Sink) ReadLog(name string, pool *frame.Pool) ([]framelog.Record, []error, error) {
	var buf bytes.Buffer
	if _, err := s.Download(name, &buf, nil); err != nil {
		return nil, nil, err
	}
	return framelog.ReadAll(&buf, pool)
}
