package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/recorder"
	"github.com/smartroomba/roombadash/internal/robot"
	"github.com/smartroomba/roombadash/internal/server"
	"github.com/smartroomba/roombadash/internal/transport"
	"github.com/smartroomba/roombadash/web"
)

var (
	flagConfig      = "roombadash.yaml"
	flagComport     = ""
	flagProtocol    = ""
	flagPause       = "" // parsed leniently, bad values fall back to default
	flagDebug       = false
	flagHWHandshake = false
	flagRecord      = ""
	flagPlayback    = ""
	flagListen      = ""
	flagDemo        = false
)

func runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roombadash",
		Short: "Roomba serial dashboard",
		Args:  cobra.ExactArgs(0),
		RunE:  run,
	}
	f := cmd.Flags()
	f.StringVar(&flagConfig, "config", flagConfig, "Path to config file")
	f.StringVarP(&flagComport, "comport", "c", flagComport, "Serial port (e.g. /dev/ttyUSB0); a path to an existing recording replays it")
	f.StringVar(&flagProtocol, "protocol", flagProtocol, "Serial protocol: SCI or OI")
	f.StringVarP(&flagPause, "pause", "p", flagPause, "Milliseconds between sensor requests")
	f.BoolVarP(&flagDebug, "debug", "d", flagDebug, "Verbose logging")
	f.BoolVar(&flagHWHandshake, "hwhandshake", flagHWHandshake, "Wait for DSR before using the port")
	f.StringVarP(&flagRecord, "record", "r", flagRecord, "Record sensor data to a CSV file")
	f.StringVar(&flagPlayback, "playback", flagPlayback, "Replay a recorded CSV instead of opening a serial port")
	f.StringVar(&flagListen, "listen", flagListen, "Override listen address (e.g. :8080)")
	f.BoolVar(&flagDemo, "demo", flagDemo, "Run with synthesized sensor data")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	if flagDebug {
		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	} else {
		log.SetFlags(log.Ldate | log.Ltime)
	}
	log.Println("[main] roombadash starting")

	cfg := server.LoadConfig(flagConfig)

	// CLI flags win over config file and env
	if flagComport != "" {
		cfg.Serial.Comport = flagComport
	}
	if flagProtocol != "" {
		cfg.Serial.Protocol = flagProtocol
	}
	if flagHWHandshake {
		cfg.Serial.WaitForDSR = true
	}
	if flagPause != "" {
		cfg.Poll.PauseMs = parsePause(flagPause, cfg.Poll.PauseMs)
	}
	if flagRecord != "" {
		cfg.Record.Path = flagRecord
	}
	if flagListen != "" {
		cfg.Server.ListenAddr = flagListen
	}

	proto := oi.ParseProtocol(cfg.Serial.Protocol)

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	kind, target := chooseBackend(cfg)
	if kind == transport.Live && target == "" {
		return errors.New("no serial port given: set --comport or serial.comport in the config")
	}
	conn, err := buildConn(kind, proto, cfg)
	if err != nil {
		return err
	}
	log.Printf("[main] %s backend, target %q, protocol %s", kind, target, proto)

	rec := openRecorder(cfg.Record.Path)

	orch := robot.New(conn, rec, robot.Config{
		Target:     target,
		Kind:       kind,
		PacketCode: byte(cfg.Poll.PacketCode),
		Pause:      time.Duration(cfg.Poll.PauseMs) * time.Millisecond,
		Wakeup:     cfg.Serial.Wakeup,
	})

	srv := server.New(cfg, orch, web.FS)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// chooseBackend picks live serial or recorded playback. An explicit
// --playback or --demo flag wins; otherwise a comport that names an
// existing regular file is treated as a recording to replay.
func chooseBackend(cfg *server.Config) (transport.Kind, string) {
	if flagDemo {
		return transport.Playback, "demo"
	}
	if flagPlayback != "" {
		return transport.Playback, flagPlayback
	}
	if fi, err := os.Stat(cfg.Serial.Comport); err == nil && fi.Mode().IsRegular() {
		return transport.Playback, cfg.Serial.Comport
	}
	return transport.Live, cfg.Serial.Comport
}

func buildConn(kind transport.Kind, proto oi.Protocol, cfg *server.Config) (transport.Conn, error) {
	if kind == transport.Live {
		reg := transport.NewPortRegistry()
		return transport.NewSerial(reg, transport.Options{
			Protocol:        proto,
			WaitForDSR:      cfg.Serial.WaitForDSR,
			FlushAfterWrite: cfg.Serial.FlushAfterWrite,
		}), nil
	}

	// With a zero pause the recording's own inter-sample gaps pace the
	// replay; otherwise the fixed poll cadence does.
	opts := transport.PlaybackOptions{
		Protocol:    proto,
		HonorTiming: cfg.Poll.PauseMs == 0,
	}
	if flagDemo {
		step := time.Duration(cfg.Poll.PauseMs) * time.Millisecond
		return transport.NewPlaybackFromSamples(opts, recorder.DemoSamples(600, step)), nil
	}
	return transport.NewPlayback(opts), nil
}

// openRecorder opens the CSV sink. An unopenable path disables recording
// with a warning rather than aborting startup.
func openRecorder(path string) *recorder.Writer {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		log.Printf("[main] cannot open record file %s: %v (recording disabled)", path, err)
		return nil
	}
	log.Printf("[main] recording sensor data to %s", path)
	return recorder.NewWriter(f)
}

// parsePause interprets the --pause flag. Non-numeric or negative input
// falls back to the current value with a warning instead of aborting.
func parsePause(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		log.Printf("[main] bad pause value %q, using %d ms", s, fallback)
		return fallback
	}
	return n
}
