// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/Thermoquad/carinspector/pkg/console"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	monitorDownloadDir string
	monitorMaxLines    int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive console for a running node",
	Long: `Open the node console in an interactive terminal UI.

Every line the node prints is shown, coloured by kind (info, error and the
CAN, LIN and K-Line data lines). Commands typed at the prompt are sent to
the node; "help" lists them.

Features:
  - Per-bus data line counters and rates
  - Command history (up/down)
  - Data line hiding (ctrl+d) to read command output under load
  - Downloads started with "download <file>" are saved to --download-dir
  - Automatic reconnection on connection loss

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorDownloadDir, "download-dir", ".", "Directory for files downloaded from the node")
	monitorCmd.Flags().IntVar(&monitorMaxLines, "max-lines", 2000, "Lines kept in the scrollback")
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	client   *console.Client
	conn     Connection
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) current() (*console.Client, Connection) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client, cm.conn
}

func (cm *connectionManager) set(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.client = console.NewClient(conn)
	cm.connInfo = connInfo
}

// send writes one command line to the node
func (cm *connectionManager) send(command string) error {
	client, _ := cm.current()
	if client == nil {
		return fmt.Errorf("not connected")
	}
	return client.Send(command)
}

func (cm *connectionManager) close() {
	if _, conn := cm.current(); conn != nil {
		conn.Close()
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{done: make(chan struct{})}
	cm.set(conn, connInfo)

	m := initialMonitorModel(cm, connInfo, monitorMaxLines)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	go cm.readerLoop()

	_, err = p.Run()
	close(cm.done)
	cm.close()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop reads from the connection and reconnects when it is lost
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromConnection() {
			cm.p.Send(connectionLostMsg{})
			if !cm.reconnect() {
				return
			}
		}
	}
}

// readFromConnection forwards lines to the TUI until the connection fails.
// It returns true if the connection was lost, false on shutdown.
func (cm *connectionManager) readFromConnection() bool {
	client, _ := cm.current()

	batchChan := make(chan console.Line, 512)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			l, err := client.ReadLine()
			if err != nil {
				return
			}

			if remote, size, ok := console.ParseDownloadStart(l); ok {
				batchChan <- l
				cm.p.Send(cm.saveDownload(client, remote, size))
				continue
			}

			select {
			case batchChan <- l:
			default:
				// TUI is behind, the counters still see the drop
				cm.p.Send(monitorDroppedMsg{})
			}
		}
	}()

	// Send batched lines to the TUI at a fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch monitorBatchMsg
			drainLoop:
				for {
					select {
					case l := <-batchChan:
						batch.lines = append(batch.lines, l)
					default:
						break drainLoop
					}
				}
				if len(batch.lines) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true
	}
}

// saveDownload copies a transfer announced by a start line into the
// download directory
func (cm *connectionManager) saveDownload(client *console.Client, remote string, size int64) downloadMsg {
	local := filepath.Join(monitorDownloadDir, path.Base(remote))
	msg := downloadMsg{remote: remote, local: local, size: size}

	f, err := os.Create(local)
	if err != nil {
		// still consume the bytes so the stream stays in sync
		_, _ = client.ReadRaw(io.Discard, size)
		msg.err = err
		return msg
	}
	msg.n, msg.err = client.ReadRaw(f, size)
	if cerr := f.Close(); msg.err == nil {
		msg.err = cerr
	}
	if msg.err != nil {
		os.Remove(local)
	}
	return msg
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	cm.close()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.set(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
