package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/srg/hrbridge/bridge"
	"github.com/srg/hrbridge/scanner"
)

func newShellCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive console to scan, connect and disconnect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runShell(cmd *cobra.Command, flags *scanFlags) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	if err := app.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", app.store.Path(), err)
	}
	cmd.SilenceUsage = true

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hrbridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Log lines must not tear the prompt
	app.logger.SetOutput(rl.Stderr())

	ctx, cancel := signalContext(cmd)
	defer cancel()

	c := newConsole(rl.Stdout(), app, flags.options(app))
	defer c.stack.Close()

	c.printHelp()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil // EOF
		}
		if quit := c.exec(ctx, line); quit {
			return nil
		}
	}
}

// console executes shell commands against one relay stack.
type console struct {
	out   io.Writer
	app   *appContext
	scan  *scanner.ScanOptions
	stack *relayStack

	mu            sync.Mutex
	results       []scanner.Result
	lastConnected bool
}

func newConsole(out io.Writer, app *appContext, scanOpts *scanner.ScanOptions) *console {
	c := &console{out: out, app: app, scan: scanOpts}
	c.stack = newRelayStack(app.cfg, c.observe, app.logger)
	return c
}

// observe reports status transitions only; samples are shown by 'status'.
func (c *console) observe(s bridge.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Connected == c.lastConnected {
		return
	}
	c.lastConnected = s.Connected
	if s.Connected {
		fmt.Fprintf(c.out, "* %s connected\n", s.DeviceID)
	} else {
		fmt.Fprintf(c.out, "* %s disconnected\n", s.DeviceID)
	}
}

// exec runs one command line and reports whether the shell should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name, args := strings.ToLower(parts[0]), parts[1:]

	switch name {
	case "help", "?":
		c.printHelp()
	case "scan", "s":
		c.cmdScan(ctx, args)
	case "list", "ls":
		c.cmdList()
	case "connect", "c":
		c.cmdConnect(ctx, args)
	case "disconnect", "d":
		c.cmdDisconnect(ctx, args)
	case "status":
		c.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", name)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  scan [seconds]        - Scan for sensors (replaces the device list)
  list                  - Show the last scan results
  connect <id|#n>       - Connect to a sensor and start relaying
  disconnect [id]       - Disconnect (the active sensor when no id is given)
  status                - Show connection status and last heart rate
  help                  - Show this help
  quit                  - Disconnect and exit`)
}

func (c *console) cmdScan(ctx context.Context, args []string) {
	opts := *c.scan
	if len(args) > 0 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil || secs <= 0 {
			fmt.Fprintf(c.out, "Invalid scan duration: %s\n", args[0])
			return
		}
		opts.Duration = time.Duration(secs * float64(time.Second))
	}

	fmt.Fprintf(c.out, "Scanning for %s...\n", opts.Duration)
	results, err := c.stack.scanner.Scan(ctx, &opts, nil)
	if err != nil {
		fmt.Fprintf(c.out, "Scan failed: %s\n", FormatUserError(err))
		return
	}

	c.mu.Lock()
	c.results = results
	c.mu.Unlock()
	c.cmdList()
}

func (c *console) cmdList() {
	c.mu.Lock()
	results := append([]scanner.Result(nil), c.results...)
	c.mu.Unlock()

	var active string
	if s := c.stack.registry.Active(); s != nil {
		active = s.DeviceID()
	}
	_ = displayResults(c.out, results, "table", active)
}

// resolveID accepts a device id or "#n" referring to the n-th listed result.
func (c *console) resolveID(arg string) (string, error) {
	if !strings.HasPrefix(arg, "#") {
		return arg, nil
	}
	n, err := strconv.Atoi(arg[1:])
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil || n < 1 || n > len(c.results) {
		return "", fmt.Errorf("no device %s in the list", arg)
	}
	return c.results[n-1].ID, nil
}

func (c *console) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: connect <id|#n>")
		return
	}
	id, err := c.resolveID(args[0])
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}

	fmt.Fprintf(c.out, "Connecting to %s...\n", id)
	if err := c.stack.manager.Connect(ctx, id); err != nil {
		fmt.Fprintf(c.out, "Connect failed: %s\n", FormatUserError(err))
		return
	}
	fmt.Fprintf(c.out, "Relaying %s to %s\n", id, c.app.cfg.SinkMode())
}

func (c *console) cmdDisconnect(ctx context.Context, args []string) {
	var id string
	if len(args) > 0 {
		resolved, err := c.resolveID(args[0])
		if err != nil {
			fmt.Fprintln(c.out, err)
			return
		}
		id = resolved
	} else if s := c.stack.registry.Active(); s != nil {
		id = s.DeviceID()
	} else {
		fmt.Fprintln(c.out, "Not connected")
		return
	}

	c.stack.manager.Disconnect(ctx, id)
	fmt.Fprintf(c.out, "Disconnected %s\n", id)
}

func (c *console) cmdStatus() {
	session := c.stack.registry.Active()
	if session == nil {
		fmt.Fprintln(c.out, "Not connected")
		return
	}

	state := c.stack.relay.State()
	fmt.Fprintf(c.out, "Connected to %s (session %s, since %s)\n",
		session.DeviceID(), session.ID, session.Since.Format(time.TimeOnly))
	if !state.LastSample.IsZero() {
		fmt.Fprintf(c.out, "Heart rate: %.0f bpm (%s ago)\n",
			state.HeartRate, time.Since(state.LastSample).Truncate(time.Second))
	} else {
		fmt.Fprintln(c.out, "Heart rate: waiting for data")
	}
}
