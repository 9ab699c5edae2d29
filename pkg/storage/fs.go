// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package storage persists captured frames to removable media and backs
// the console's file-management commands.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrBusy        = errors.New("file is the active log")
	ErrIsDir       = errors.New("is a directory")
	ErrNotMounted  = errors.New("storage not mounted")
	ErrOutsideRoot = errors.New("path outside storage root")
	ErrNoSession   = errors.New("no active log session")
)

// File is an open file on the storage medium
type File interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Closer
	Stat() (fs.FileInfo, error)
}

// FS is a path-addressed hierarchical file system rooted at "/"
type FS interface {
	Open(name string) (File, error)
	Create(name string) (File, error)
	OpenAppend(name string) (File, error)
	Exists(name string) bool
	Stat(name string) (fs.FileInfo, error)
	Remove(name string) error
	Rename(from, to string) error
	Mkdir(name string) error
	Rmdir(name string) error
	ReadDir(name string) ([]fs.DirEntry, error)
	TotalBytes() (uint64, error)
	UsedBytes() (uint64, error)
}

// NormalizePath makes name absolute by prefixing "/" and cleans it
func NormalizePath(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return path.Clean(name)
}

// DirFS serves an OS directory, normally the card's mount point
type DirFS struct {
	root string
}

// Mount checks that root is an accessible directory and returns a DirFS
// on it
func Mount(root string) (*DirFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMounted, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMounted, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotMounted, abs)
	}
	return &DirFS{root: abs}, nil
}

// Root returns the OS directory backing the file system
func (d *DirFS) Root() string {
	return d.root
}

func (d *DirFS) resolve(name string) (string, error) {
	p := NormalizePath(name)
	full := filepath.Join(d.root, filepath.FromSlash(p))
	if full != d.root && !strings.HasPrefix(full, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return full, nil
}

// mapErr reports errors against the medium path, never the host path
func mapErr(err error, name string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", NormalizePath(name), ErrNotFound)
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s %s: %w", pe.Op, NormalizePath(name), pe.Err)
	}
	return err
}

func (d *DirFS) openFile(name string, flag int) (File, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, flag, 0o644)
	if err != nil {
		return nil, mapErr(err, name)
	}
	return f, nil
}

func (d *DirFS) Open(name string) (File, error) {
	return d.openFile(name, os.O_RDONLY)
}

func (d *DirFS) Create(name string) (File, error) {
	return d.openFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

func (d *DirFS) OpenAppend(name string) (File, error) {
	return d.openFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (d *DirFS) Exists(name string) bool {
	_, err := d.Stat(name)
	return err == nil
}

func (d *DirFS) Stat(name string) (fs.FileInfo, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, mapErr(err, name)
	}
	return info, nil
}

// Remove removes a file; directories are refused
func (d *DirFS) Remove(name string) error {
	info, err := d.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDir, name)
	}
	p, _ := d.resolve(name)
	return mapErr(os.Remove(p), name)
}

func (d *DirFS) Rename(from, to string) error {
	src, err := d.resolve(from)
	if err != nil {
		return err
	}
	dst, err := d.resolve(to)
	if err != nil {
		return err
	}
	return mapErr(os.Rename(src, dst), from)
}

func (d *DirFS) Mkdir(name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	return mapErr(os.Mkdir(p, 0o755), name)
}

// Rmdir removes an empty directory
func (d *DirFS) Rmdir(name string) error {
	info, err := d.Stat(name)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", name)
	}
	p, _ := d.resolve(name)
	return mapErr(os.Remove(p), name)
}

func (d *DirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, mapErr(err, name)
	}
	return entries, nil
}
