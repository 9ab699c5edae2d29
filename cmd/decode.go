// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/Thermoquad/carinspector/pkg/framelog"
	"github.com/Thermoquad/carinspector/pkg/kline"
	"github.com/Thermoquad/carinspector/pkg/lin"
	"github.com/spf13/cobra"
)

var (
	decodeKind   string
	decodeErrors bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file.cil>",
	Short: "Display a capture log in human-readable format",
	Long: `Decode a capture log file and print one line per record.

Session headers show the session id, node name and start time. Frames show
their capture time, bus and contents; LIN frames with their identifier and
K-Line vehicle information responses with the decoded value.

Damaged records are skipped; the decoder resynchronises on the next record
start. Use --errors to list them.

Reads standard input when the file is "-".`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeKind, "kind", "k", "", "Only show one bus: can, lin or kline")
	decodeCmd.Flags().BoolVar(&decodeErrors, "errors", false, "Print decode errors")
}

func runDecode(cmd *cobra.Command, args []string) error {
	var filter *frame.Kind
	if decodeKind != "" {
		k, err := frame.ParseKind(decodeKind)
		if err != nil {
			return err
		}
		filter = &k
	}

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	pool := frame.NewPool()
	decoder := framelog.NewDecoder(pool)
	r := bufio.NewReader(in)

	var records, frames, bad int
	for {
		b, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		rec, err := decoder.DecodeByte(b)
		if err != nil {
			bad++
			if decodeErrors {
				fmt.Fprintf(out, "[ERROR] %v\n", err)
			}
			continue
		}
		if rec == nil {
			continue
		}

		records++
		switch rec.Type {
		case framelog.RecordSession:
			s := rec.Session
			fmt.Fprintf(out, "=== session %s node=%q start=%s ===\n",
				s.ID, s.Node, s.Start.Format("2006-01-02 15:04:05.000000"))
		case framelog.RecordFrame:
			frames++
			if filter == nil || rec.Frame.Kind() == *filter {
				fmt.Fprintln(out, formatRecordFrame(rec.Frame))
			}
		}
		rec.Release()
	}

	fmt.Fprintf(out, "--- %d records, %d frames, %d decode errors ---\n", records, frames, bad)
	return nil
}

// formatRecordFrame renders one logged frame
func formatRecordFrame(f *frame.Frame) string {
	ts := f.Timestamp().Format("15:04:05.000000")
	return fmt.Sprintf("[%s] %-5s %s", ts, f.Kind(), describeFrame(f))
}

func describeFrame(f *frame.Frame) string {
	switch f.Kind() {
	case frame.KindLIN:
		data := f.Data()
		if len(data) < 2 {
			break
		}
		id, err := lin.ID(data[0])
		if err != nil {
			break
		}
		return fmt.Sprintf("id 0x%02X %s", id, f.Hex())

	case frame.KindKLine:
		msg, err := kline.Decode(f.Data())
		if err != nil {
			break
		}
		d := msg.Data
		if len(d) >= 3 && d[0] == kline.ServiceVehicleInfo+0x40 {
			return fmt.Sprintf("%s  mode 09 pid 0x%02X %q", f.Hex(), d[1], kline.FormatVehicleInfo(d[1], d[3:]))
		}
		return fmt.Sprintf("%s  service 0x%02X", f.Hex(), d[0])
	}
	return f.String()
}
