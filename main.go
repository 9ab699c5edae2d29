// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Carinspector - Vehicle bus capture node
//
// Captures CAN-FD, LIN and K-Line traffic to a storage card and serves a
// line-oriented command console.

package main

import (
	"os"

	"github.com/Thermoquad/carinspector/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
