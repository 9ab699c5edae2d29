// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	// Node configuration
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "carinspector",
	Short: "Vehicle bus capture node",
	Long: `Carinspector - Capture CAN-FD, LIN and K-Line traffic to a storage card.

The run command is the capture node itself: it polls the buses, logs every
frame to the mounted card and answers console commands on stdio or a UART.

The remaining commands work from the operator side against a running node:

  monitor   interactive console
  fetch     download a log file from the node
  ping      check that the node answers
  decode    render a downloaded log file as text

Connection modes (operator side):
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
CARINSPECTOR_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Node configuration file (YAML)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
