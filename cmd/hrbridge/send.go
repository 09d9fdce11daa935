package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/hrbridge/bridge"
	"github.com/srg/hrbridge/pkg/sink/midi"
	"github.com/srg/hrbridge/pkg/sink/osc"
)

type sendFlags struct {
	host     string
	port     int
	midiPort string
}

// resolve fills unset flags from the configuration.
func (f sendFlags) resolve(app *appContext) sendFlags {
	if f.host == "" {
		f.host = app.cfg.OSCIP
	}
	if f.port == 0 {
		f.port = app.cfg.OSCPort
	}
	if f.midiPort == "" {
		f.midiPort = app.cfg.MIDIPort
	}
	return f
}

func newSendCmd() *cobra.Command {
	flags := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single OSC or MIDI message to test the receiving side",
	}
	cmd.PersistentFlags().StringVar(&flags.host, "host", "", "OSC host (default osc_ip from config)")
	cmd.PersistentFlags().IntVar(&flags.port, "port", 0, "OSC port (default osc_port from config)")
	cmd.PersistentFlags().StringVar(&flags.midiPort, "midi-port", "", "MIDI output port (default midi_port from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "osc-float <address> <value>",
		Short: "Send an OSC float",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return fmt.Errorf("invalid float %q: %w", args[1], err)
			}
			return withOSC(cmd, flags, func(s *osc.Sender, f sendFlags) error {
				return s.SendFloat(f.host, f.port, args[0], float32(v))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "osc-bool <address> <true|false>",
		Short: "Send an OSC bool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid bool %q: %w", args[1], err)
			}
			return withOSC(cmd, flags, func(s *osc.Sender, f sendFlags) error {
				return s.SendBool(f.host, f.port, args[0], v)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "midi-note <note> <velocity>",
		Short: "Send a MIDI note-on (velocity 0 sends note-off)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			note, err := parseUint7(args[0])
			if err != nil {
				return err
			}
			velocity, err := parseUint7(args[1])
			if err != nil {
				return err
			}
			return withMIDI(cmd, flags, func(s *midi.Sender, f sendFlags) error {
				return s.SendNote(f.midiPort, note, velocity)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "midi-hr <bpm>",
		Short: "Send a heart rate as the two-digit MIDI message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bpm, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid heart rate %q: %w", args[0], err)
			}
			return withMIDI(cmd, flags, func(s *midi.Sender, f sendFlags) error {
				return s.SendHeartRate(f.midiPort, bridge.MIDIHeartRate(bpm))
			})
		},
	})

	return cmd
}

func parseUint7(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil || v > 127 {
		return 0, fmt.Errorf("invalid MIDI data byte %q: must be 0..127", s)
	}
	return uint8(v), nil
}

func withOSC(cmd *cobra.Command, flags *sendFlags, fn func(*osc.Sender, sendFlags) error) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	f := flags.resolve(app)
	if err := fn(osc.NewSender(app.logger), f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s:%d\n", f.host, f.port)
	return nil
}

func withMIDI(cmd *cobra.Command, flags *sendFlags, fn func(*midi.Sender, sendFlags) error) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	f := flags.resolve(app)
	sender := midi.NewSender(app.logger, midi.WithPorts(midiPorts))
	defer sender.Close()

	if err := fn(sender, f); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent to MIDI port %s\n", f.midiPort)
	return nil
}
