package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hrbridge",
		Short: "Bluetooth heart-rate monitor to OSC and MIDI bridge",
		Long: `Relays a Bluetooth LE heart-rate sensor to OSC and MIDI:

- Scan for nearby sensors
- Connect to one sensor and stream its heart rate
- Send the heart rate as an OSC float (bpm / max_hr) and as a MIDI message
- Mirror the connection status as an OSC bool and MIDI note 60

Settings are read from config.json in the user's documents directory.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default <documents>/config.json)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newShellCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSendCmd())

	return rootCmd
}

func main() {
	defer midi.CloseDriver()

	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		midi.CloseDriver()
		os.Exit(1)
	}
}
