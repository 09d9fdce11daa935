//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/srg/hrbridge/internal/testutils"
	"github.com/srg/hrbridge/pkg/sink/midi"
)

// Test device identifiers for consistent fake sensor identification
const (
	TestDeviceID1 = "00:00:00:00:00:01"
	TestDeviceID2 = "00:00:00:00:00:02"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writers a command spawns.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends FakeTransportSuite with command testing utilities.
// Every test gets its own config file and an empty MIDI port list.
type CommandTestSuite struct {
	testutils.FakeTransportSuite

	ConfigPath string

	originalPorts midi.PortLister
}

func (s *CommandTestSuite) SetupTest() {
	s.FakeTransportSuite.SetupTest()
	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.json")

	s.originalPorts = midiPorts
	midiPorts = func() ([]midi.Port, error) { return nil, nil }
}

func (s *CommandTestSuite) TearDownTest() {
	midiPorts = s.originalPorts
	s.FakeTransportSuite.TearDownTest()
}

// WriteConfig writes raw JSON as the test's config file.
func (s *CommandTestSuite) WriteConfig(content string) {
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(content), 0o644), "config write MUST succeed")
}

// UsePorts installs the given MIDI output ports.
func (s *CommandTestSuite) UsePorts(ports ...midi.Port) {
	midiPorts = func() ([]midi.Port, error) { return ports, nil }
}

// ExecuteCommand runs a fresh command tree against the test config, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(ctx context.Context, args ...string) (string, error) {
	out, err := s.Start(ctx, args...)()
	return out.String(), err
}

// Start runs the command asynchronously. The returned function waits for completion.
func (s *CommandTestSuite) Start(ctx context.Context, args ...string) func() (*syncBuffer, error) {
	cmd := newRootCmd()
	buf := &syncBuffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--config", s.ConfigPath))

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	return func() (*syncBuffer, error) {
		return buf, <-done
	}
}
