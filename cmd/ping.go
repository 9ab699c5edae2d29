// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the node console answers",
	Long: `Send "status" to the node and wait for the complete answer.

This verifies the console path end to end:
  - the serial port or WebSocket bridge is reachable
  - HTTP Basic authentication works (WebSocket)
  - the node's command loop is running

The status block is printed for the last successful round trip.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// isStatusEnd matches the last line of a status answer
func isStatusEnd(l console.Line) bool {
	return l.Kind == console.LineInfo &&
		(l.Text == "logging off" || strings.HasPrefix(l.Text, "logging to "))
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Carinspector - Console Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	client := console.NewClient(conn)

	lines := make(chan console.Line, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			l, err := client.ReadLine()
			if err != nil {
				readErr <- err
				return
			}
			lines <- l
		}
	}()

	successCount := 0
	failCount := 0
	var lastStatus []string

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := client.Send("status"); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		var status []string
		timeout := time.After(time.Duration(pingTimeout) * time.Second)
	wait:
		for {
			select {
			case l := <-lines:
				if l.Kind == console.LineInfo && !strings.HasPrefix(l.Text, "command:") {
					status = append(status, l.Text)
				}
				if l.Kind == console.LineError {
					status = append(status, "error: "+l.Text)
				}
				if isStatusEnd(l) {
					fmt.Printf("OK (%v)\n", time.Since(startTime).Round(time.Microsecond))
					successCount++
					lastStatus = status
					break wait
				}
			case err := <-readErr:
				fmt.Printf("CONNECTION LOST: %v\n", err)
				failCount += pingCount - i + 1
				i = pingCount
				break wait
			case <-timeout:
				fmt.Printf("TIMEOUT\n")
				failCount++
				break wait
			}
		}

		if i < pingCount {
			time.Sleep(500 * time.Millisecond)
		}
	}

	if len(lastStatus) > 0 {
		fmt.Println()
		for _, s := range lastStatus {
			fmt.Printf("  %s\n", s)
		}
	}

	fmt.Printf("\n--- %d sent, %d ok, %d failed ---\n", pingCount, successCount, failCount)
	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
