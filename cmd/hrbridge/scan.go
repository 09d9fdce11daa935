package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/hrbridge/pkg/connection"
	"github.com/srg/hrbridge/scanner"
)

var validFormats = []string{"table", "json"}

type scanFlags struct {
	duration  time.Duration
	format    string
	backend   string
	allowList []string
	blockList []string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (default scan_seconds from config)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Bluetooth backend (go-ble, tinygo; default from config)")
	cmd.Flags().StringSliceVar(&f.allowList, "allow", nil, "Only show devices with these ids")
	cmd.Flags().StringSliceVar(&f.blockList, "block", nil, "Hide devices with these ids")
}

// options merges the flags over the configuration.
func (f *scanFlags) options(app *appContext) *scanner.ScanOptions {
	opts := &scanner.ScanOptions{
		Duration:  app.cfg.ScanDuration(),
		Backend:   app.cfg.Backend,
		AllowList: f.allowList,
		BlockList: f.blockList,
	}
	if f.duration > 0 {
		opts.Duration = f.duration
	}
	if f.backend != "" {
		opts.Backend = f.backend
	}
	if opts.Duration <= 0 {
		opts.Duration = scanner.DefaultDwell
	}
	return opts
}

func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for heart-rate sensors",
		Long: `Scan for nearby Bluetooth LE devices and list the ones that advertise a name.

The listed ids are accepted by 'hrbridge run' and by the bluetooth_device_id config key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

func runScan(cmd *cobra.Command, flags *scanFlags) error {
	if err := validateFormat(flags.format); err != nil {
		return err
	}

	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	opts := flags.options(app)
	s := scanner.NewScanner(connection.NewRegistry(), app.logger)

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for sensors", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	results, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()

	if err != nil {
		app.logger.WithError(err).Error("scan failed")
		return err
	}

	return displayResults(cmd.OutOrStdout(), results, flags.format, app.cfg.BluetoothDeviceID)
}

func displayResults(w io.Writer, results []scanner.Result, format, remembered string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if results == nil {
			results = []scanner.Result{}
		}
		return encoder.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tID\t")
	fmt.Fprintln(tw, strings.Repeat("-", 60))

	marker := color.New(color.FgGreen).SprintFunc()
	for i, r := range results {
		name := r.Name
		if len(name) > 28 {
			name = name[:25] + "..."
		}
		note := ""
		if r.ID == remembered {
			note = marker("(configured)")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, name, r.ID, note)
	}
	return tw.Flush()
}
