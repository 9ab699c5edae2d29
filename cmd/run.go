// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Thermoquad/carinspector/pkg/bus"
	"github.com/Thermoquad/carinspector/pkg/command"
	"github.com/Thermoquad/carinspector/pkg/config"
	"github.com/Thermoquad/carinspector/pkg/console"
	"github.com/Thermoquad/carinspector/pkg/kline"
	"github.com/Thermoquad/carinspector/pkg/lin"
	"github.com/Thermoquad/carinspector/pkg/node"
	"github.com/Thermoquad/carinspector/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	runStorageRoot string
	runCANDriver   string
	runCANIface    string
	runLINPort     string
	runKLinePort   string
	runConsolePort string
	runDebug       bool
	runSelfTest    bool
	runTrace       bool
	runPrintConfig bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture node",
	Long: `Run the capture node.

The acquisition loop polls the CAN controller and the LIN UART every
millisecond and hands each frame to a bounded queue. The dispatcher logs
queued frames to the storage card and, in debug mode, echoes them on the
console. The K-Line poller queries vehicle information on its own schedule.

Commands are read from the console (stdio, or console.port from the
configuration). Type "help" for the command list. "exit" closes the
console but leaves capture running; SIGINT or SIGTERM stops the node,
drains the queue and closes the log file.

Flags override the configuration file.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runStorageRoot, "storage", "", "Mounted storage directory")
	runCmd.Flags().StringVar(&runCANDriver, "can", "", "CAN driver: socketcan, virtual or none")
	runCmd.Flags().StringVar(&runCANIface, "can-iface", "", "SocketCAN interface")
	runCmd.Flags().StringVar(&runLINPort, "lin", "", "LIN UART device")
	runCmd.Flags().StringVar(&runKLinePort, "kline", "", "K-Line UART device")
	runCmd.Flags().StringVar(&runConsolePort, "console", "", "Console UART device (default stdio)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Start in debug mode")
	runCmd.Flags().BoolVar(&runSelfTest, "selftest", false, "Start in self-test mode")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Start with raw LIN tracing")
	runCmd.Flags().BoolVar(&runPrintConfig, "print-config", false, "Print the effective configuration and exit")
}

func loadNodeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("storage") {
		cfg.Storage.Root = runStorageRoot
	}
	if flags.Changed("can") {
		cfg.CAN.Driver = runCANDriver
		if runCANDriver == "none" {
			cfg.CAN.Driver = ""
		}
	}
	if flags.Changed("can-iface") {
		cfg.CAN.Interface = runCANIface
	}
	if flags.Changed("lin") {
		cfg.LIN.Port = runLINPort
	}
	if flags.Changed("kline") {
		cfg.KLine.Port = runKLinePort
	}
	if flags.Changed("console") {
		cfg.Console.Port = runConsolePort
	}
	if flags.Changed("debug") {
		cfg.Mode.Debug = runDebug
	}
	if flags.Changed("selftest") {
		cfg.Mode.SelfTest = runSelfTest
	}
	if flags.Changed("trace") {
		cfg.Mode.Trace = runTrace
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// nodeBuses holds the opened collaborators so they can be closed together
type nodeBuses struct {
	can   bus.CAN
	lin   io.ReadCloser
	kline *kline.Client
	kport io.Closer
}

func (b *nodeBuses) Close() {
	if b.can != nil {
		b.can.Close()
	}
	if b.lin != nil {
		b.lin.Close()
	}
	if b.kport != nil {
		b.kport.Close()
	}
}

func openBuses(cfg *config.Config) (*nodeBuses, error) {
	b := &nodeBuses{}

	switch cfg.CAN.Driver {
	case "socketcan":
		sc, err := bus.OpenSocketCAN(cfg.CAN.Interface)
		if err != nil {
			return nil, err
		}
		b.can = sc
		log.Printf("CAN: socketcan %s", cfg.CAN.Interface)
	case "virtual":
		b.can = bus.NewVirtual()
		log.Printf("CAN: virtual controller")
	}

	if cfg.LIN.Port != "" {
		port, err := bus.OpenUART(cfg.LIN.Port, cfg.LIN.Baud, cfg.LIN.ReadTimeout.D())
		if err != nil {
			b.Close()
			return nil, err
		}
		b.lin = port
		log.Printf("LIN: %s @ %d baud, %s framing, %s checksum",
			cfg.LIN.Port, cfg.LIN.Baud, cfg.LIN.Framing, cfg.LIN.Checksum)
	}

	if cfg.KLine.Port != "" {
		port, err := bus.OpenUART(cfg.KLine.Port, cfg.KLine.Baud, 0)
		if err != nil {
			b.Close()
			return nil, err
		}
		opts := kline.DefaultOptions()
		opts.Echo = cfg.KLine.Echo
		opts.Target = byte(cfg.KLine.Target)
		opts.Tester = byte(cfg.KLine.Tester)
		b.kline = kline.NewClient(port, opts)
		b.kport = port
		log.Printf("K-Line: %s @ %d baud", cfg.KLine.Port, cfg.KLine.Baud)
	}
	return b, nil
}

func openConsole(cfg *config.Config) (io.Reader, io.Writer, func(), error) {
	if cfg.Console.Port == "" {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	port, err := bus.OpenUART(cfg.Console.Port, cfg.Console.Baud, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	return port, port, func() { port.Close() }, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadNodeConfig(cmd)
	if err != nil {
		return err
	}
	if runPrintConfig {
		return cfg.Encode(os.Stdout)
	}

	in, out, closeConsole, err := openConsole(cfg)
	if err != nil {
		return err
	}
	defer closeConsole()
	con := console.New(out)

	buses, err := openBuses(cfg)
	if err != nil {
		return err
	}
	defer buses.Close()

	p := node.NewPipeline(cfg.Queue.Capacity, con)
	p.Mode.SelfTest.Store(cfg.Mode.SelfTest)
	p.Mode.Debug.Store(cfg.Mode.Debug)
	p.Mode.Trace.Store(cfg.Mode.Trace)

	// A missing card is reported, not fatal: capture and the console keep
	// running and storage commands answer "storage not mounted"
	var fsys storage.FS
	if dir, err := storage.Mount(cfg.Storage.Root); err != nil {
		log.Printf("Storage: %v", err)
		con.Error("storage not mounted")
	} else {
		fsys = dir
		log.Printf("Storage: %s", cfg.Storage.Root)
	}
	sink := storage.NewSink(fsys, storage.SinkOptions{Prefix: cfg.Storage.Prefix, Node: cfg.Node})
	if sink.Mounted() && cfg.Storage.Autostart {
		if name, err := sink.StartSession(); err != nil {
			con.Error("log start: %v", err)
		} else {
			con.Info("logging to %s", name)
		}
	}

	var linDec lin.Decoder
	if buses.lin != nil {
		model, err := lin.ParseChecksumModel(cfg.LIN.Checksum)
		if err != nil {
			return err
		}
		if linDec, err = lin.NewDecoder(cfg.LIN.Framing, p.Pool, model); err != nil {
			return err
		}
	}

	acqOpts := node.DefaultAcquirerOptions()
	acqOpts.PollInterval = cfg.Queue.PollInterval.D()
	acqOpts.EnqueueTimeout = cfg.Queue.EnqueueTimeout.D()
	acqOpts.ProbeID = cfg.SelfTest.ProbeID
	acqOpts.ProbeInterval = cfg.SelfTest.Interval.D()

	var linPort io.Reader
	if buses.lin != nil {
		linPort = buses.lin
	}
	acq := node.NewAcquirer(p, buses.can, linPort, linDec, acqOpts)
	disp := node.NewDispatcher(p, sink, cfg.Queue.DequeueTimeout.D())
	proc := command.New(p, sink)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Producers stop first so the dispatcher's drain sees every frame
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		if err := acq.Run(ctx); err != nil {
			log.Printf("Acquisition stopped: %v", err)
		}
	}()
	if buses.kline != nil {
		poller := node.NewKLinePoller(p, buses.kline, cfg.KLine.KLinePIDs(), cfg.KLine.Interval.D(), acqOpts.EnqueueTimeout)
		producers.Add(1)
		go func() {
			defer producers.Done()
			poller.Run(ctx)
		}()
	}

	dispCtx, stopDispatch := context.WithCancel(context.Background())
	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(dispCtx)
	}()

	// The command loop is not joined: it may be blocked on console input
	go func() {
		if err := proc.Run(ctx, in); err != nil {
			log.Printf("Console: %v", err)
		}
		log.Printf("Console closed")
	}()

	log.Printf("Carinspector node running (queue %d)", p.Queue.Cap())
	<-ctx.Done()
	log.Printf("Shutting down")

	producers.Wait()
	stopDispatch()
	<-dispDone

	for _, line := range p.Stats.Lines() {
		log.Print(line)
	}
	if n := p.Pool.Outstanding(); n != 0 {
		log.Printf("%d frames still outstanding at exit", n)
	}
	return nil
}
