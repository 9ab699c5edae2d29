// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux || darwin

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func (d *DirFS) statfs() (total, free uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(d.root, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", d.root, err)
	}
	bs := uint64(st.Bsize)
	return st.Blocks * bs, st.Bavail * bs, nil
}

// TotalBytes returns the size of the medium
func (d *DirFS) TotalBytes() (uint64, error) {
	total, _, err := d.statfs()
	return total, err
}

// UsedBytes returns the bytes not available to the node
func (d *DirFS) UsedBytes() (uint64, error) {
	total, free, err := d.statfs()
	if err != nil {
		return 0, err
	}
	return total - free, nil
}
