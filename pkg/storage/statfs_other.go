// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux && !darwin

package storage

import "errors"

var errNoStatfs = errors.New("free space not supported on this platform")

func (d *DirFS) TotalBytes() (uint64, error) { return 0, errNoStatfs }
func (d *DirFS) UsedBytes() (uint64, error)  { return 0, errNoStatfs }
