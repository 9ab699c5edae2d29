// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/spf13/cobra"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <remote-file>",
	Short: "Download a log file from the node",
	Long: `Download one file from the node's storage card.

Sends "download <remote-file>" on the console and copies the raw bytes
between the start and complete lines to a local file. Data lines that the
node prints before the transfer starts are shown on stderr.

The local file is removed again if the transfer fails part way.

Supports both serial and WebSocket connections.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Local file (default: remote base name)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	remote := args[0]
	local := fetchOutput
	if local == "" {
		local = path.Base(remote)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)

	f, err := os.Create(local)
	if err != nil {
		return err
	}

	client := console.NewClient(conn)
	start := time.Now()
	n, err := client.Download(remote, f, func(l console.Line) {
		fmt.Fprintf(os.Stderr, "  %s\n", l.Text)
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(local)
		return fmt.Errorf("fetch %s: %w", remote, err)
	}

	elapsed := time.Since(start)
	abs, _ := filepath.Abs(local)
	fmt.Printf("%s -> %s: %d bytes in %v (%.1f KB/s)\n",
		remote, abs, n, elapsed.Round(time.Millisecond), float64(n)/1024.0/elapsed.Seconds())
	return nil
}
