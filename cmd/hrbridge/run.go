package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrbridge/bridge"
	"github.com/srg/hrbridge/pkg/config"
	"github.com/srg/hrbridge/pkg/connection"
	"github.com/srg/hrbridge/pkg/sink/midi"
	"github.com/srg/hrbridge/pkg/sink/osc"
	"github.com/srg/hrbridge/scanner"
	"golang.org/x/term"
)

// shutdownTimeout bounds disconnect and sink draining on exit.
const shutdownTimeout = 5 * time.Second

// midiPorts lists the MIDI output ports; overridden in tests.
var midiPorts midi.PortLister = midi.DriverPorts

func newRunCmd() *cobra.Command {
	flags := &scanFlags{}
	var remember bool

	cmd := &cobra.Command{
		Use:   "run [device-id]",
		Short: "Relay a heart-rate sensor to OSC and MIDI",
		Long: `Scan, connect to the sensor and relay its heart rate until Ctrl+C.

The device id is taken from the argument or from the bluetooth_device_id config key.
Output goes to the sinks selected by the mode config key (osc, midi, both).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, args, flags, remember)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&remember, "remember", false, "Save the device id as bluetooth_device_id")
	return cmd
}

// relayStack is a running bridge: sinks, relay and connection manager on one registry.
type relayStack struct {
	registry *connection.Registry
	scanner  *scanner.Scanner
	manager  *connection.Manager
	relay    *bridge.Relay
	midi     *midi.Sender
	logger   *logrus.Logger
}

func newRelayStack(cfg *config.Config, observer bridge.Observer, logger *logrus.Logger) *relayStack {
	mode := cfg.SinkMode()

	var (
		oscSender  bridge.OSCSender
		midiSender bridge.MIDISender
		midiOut    *midi.Sender
	)
	if mode.OSC() {
		oscSender = osc.NewSender(logger)
	}
	if mode.MIDI() {
		midiOut = midi.NewSender(logger, midi.WithPorts(midiPorts))
		midiSender = midiOut
	}

	registry := connection.NewRegistry()
	relay := bridge.NewRelay(bridge.OptionsFromConfig(cfg), oscSender, midiSender, observer, logger)

	return &relayStack{
		registry: registry,
		scanner:  scanner.NewScanner(registry, logger),
		manager: connection.NewManager(registry, relay, connection.Options{
			StepTimeout: cfg.StepTimeout(),
			Policy:      cfg.Policy(),
		}, logger),
		relay:  relay,
		midi:   midiOut,
		logger: logger,
	}
}

// Close disconnects the active sensor and drains the sinks.
func (s *relayStack) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.manager.Close(ctx)
	if err := s.relay.Close(ctx); err != nil {
		s.logger.WithError(err).Warn("Relay did not drain in time")
	}
	if s.midi != nil {
		if err := s.midi.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close MIDI port")
		}
	}
}

func runRelay(cmd *cobra.Command, args []string, flags *scanFlags, remember bool) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := app.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", app.store.Path(), err)
	}

	id := app.cfg.BluetoothDeviceID
	if len(args) > 0 {
		id = args[0]
	}
	if id == "" {
		return ErrNoDeviceID
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	display := newHeartRateDisplay(out)
	stack := newRelayStack(app.cfg, display.Update, app.logger)
	defer func() {
		stack.Close()
		display.Finish()
	}()

	opts := flags.options(app)
	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	_, err = stack.scanner.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Connecting to %s...\n", id)
	if err := stack.manager.Connect(ctx, id); err != nil {
		return err
	}

	if remember && app.cfg.BluetoothDeviceID != id {
		app.cfg.BluetoothDeviceID = id
		if err := app.store.Save(app.cfg); err != nil {
			return fmt.Errorf("failed to remember device: %w", err)
		}
		app.logger.WithField("device", id).Info("Saved device id")
	}

	session := stack.registry.Active()
	if session == nil {
		return ErrConnectionLost
	}
	fmt.Fprintf(out, "Relaying %s to %s (Ctrl+C to stop)\n", id, app.cfg.SinkMode())

	select {
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-session.Done():
		return fmt.Errorf("%w: %s", ErrConnectionLost, id)
	}
}

// heartRateDisplay renders relay state: one live line on a terminal, a line per update otherwise.
type heartRateDisplay struct {
	mu    sync.Mutex
	out   io.Writer
	live  bool
	dirty bool

	bpm          *color.Color
	connected    *color.Color
	disconnected *color.Color
}

func newHeartRateDisplay(out io.Writer) *heartRateDisplay {
	live := false
	if f, ok := out.(*os.File); ok {
		live = term.IsTerminal(int(f.Fd()))
	}
	return &heartRateDisplay{
		out:          out,
		live:         live,
		bpm:          color.New(color.FgRed, color.Bold),
		connected:    color.New(color.FgGreen),
		disconnected: color.New(color.FgYellow),
	}
}

// Update implements bridge.Observer.
func (d *heartRateDisplay) Update(s bridge.State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := d.disconnected.Sprint("disconnected")
	if s.Connected {
		status = d.connected.Sprint("connected")
	}
	bpm := d.bpm.Sprintf("%3.0f bpm", s.HeartRate)

	if d.live {
		fmt.Fprintf(d.out, "%s%s  %s  %s", clearLineSequence, s.DeviceID, bpm, status)
		d.dirty = true
		return
	}
	fmt.Fprintf(d.out, "%s  %s  %s  %s\n", time.Now().Format(time.TimeOnly), s.DeviceID, bpm, status)
}

// Finish terminates the live line.
func (d *heartRateDisplay) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live && d.dirty {
		fmt.Fprintln(d.out)
		d.dirty = false
	}
}
