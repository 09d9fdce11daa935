//go:build test

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/testutils"
	"github.com/srg/hrbridge/pkg/config"
	"github.com/srg/hrbridge/pkg/sink/midi"
	"github.com/srg/hrbridge/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type fakePort struct {
	mu   sync.Mutex
	name string
	sent [][]byte
}

func (p *fakePort) String() string { return p.name }
func (p *fakePort) Open() error    { return nil }
func (p *fakePort) Close() error   { return nil }

func (p *fakePort) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

func (p *fakePort) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

type CommandsSuite struct {
	CommandTestSuite
}

// oscListener opens a local UDP listener and returns its port and a receive function.
func (s *CommandsSuite) oscListener() (int, func() *osc.Message) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })

	receive := func() *osc.Message {
		buf := make([]byte, 1024)
		s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
		n, _, err := conn.ReadFromUDP(buf)
		s.Require().NoError(err, "OSC datagram MUST arrive")
		packet, err := osc.ParsePacket(string(buf[:n]))
		s.Require().NoError(err)
		msg, ok := packet.(*osc.Message)
		s.Require().True(ok)
		return msg
	}
	return conn.LocalAddr().(*net.UDPAddr).Port, receive
}

func (s *CommandsSuite) sensor(id, name string) *testutils.FakePeripheral {
	return testutils.NewPeripheral(id).WithName(name).WithHeartRate()
}

func (s *CommandsSuite) TestScanTable() {
	s.Adapter.WithPeripherals(
		s.sensor(TestDeviceID1, "Polar H10"),
		testutils.NewPeripheral(TestDeviceID2), // unnamed, MUST be hidden
	)

	out, err := s.ExecuteCommand(context.Background(), "scan", "--duration", "10ms")

	s.Require().NoError(err)
	s.Contains(out, "NAME")
	s.Contains(out, "Polar H10")
	s.Contains(out, TestDeviceID1)
	s.NotContains(out, TestDeviceID2)
}

func (s *CommandsSuite) TestScanJSONUsesConfiguredBackend() {
	s.WriteConfig(`{"backend": "tinygo"}`)
	s.Adapter.WithPeripherals(s.sensor(TestDeviceID1, "Polar H10"))

	out, err := s.ExecuteCommand(context.Background(), "scan", "--duration", "10ms", "--format", "json")
	s.Require().NoError(err)

	start := strings.Index(out, "[")
	s.Require().GreaterOrEqual(start, 0, "output MUST contain a JSON array")
	var results []scanner.Result
	s.Require().NoError(json.NewDecoder(strings.NewReader(out[start:])).Decode(&results))
	s.Equal([]scanner.Result{{ID: TestDeviceID1, Name: "Polar H10"}}, results)
	s.Equal("tinygo", s.Backend)
}

func (s *CommandsSuite) TestScanInvalidFormat() {
	_, err := s.ExecuteCommand(context.Background(), "scan", "--format", "csv")
	s.ErrorContains(err, "invalid format")
}

func (s *CommandsSuite) TestScanAdapterUnavailable() {
	s.FailAdapter(errors.New("bluetooth is turned off"))

	_, err := s.ExecuteCommand(context.Background(), "scan", "--duration", "10ms")

	s.Require().Error(err)
	s.ErrorIs(err, device.ErrAdapterUnavailable)
	s.Contains(FormatUserError(err), "is Bluetooth turned on")
}

func (s *CommandsSuite) TestConfigCommands() {
	out, err := s.ExecuteCommand(context.Background(), "config", "path")
	s.Require().NoError(err)
	s.Equal(s.ConfigPath, strings.TrimSpace(out))

	_, err = s.ExecuteCommand(context.Background(), "config", "set", "osc_port", "9100")
	s.Require().NoError(err)

	out, err = s.ExecuteCommand(context.Background(), "config", "show")
	s.Require().NoError(err)
	var cfg config.Config
	s.Require().NoError(json.Unmarshal([]byte(out), &cfg))
	s.Equal(9100, cfg.OSCPort)
	s.Equal("osc", cfg.Mode)

	out, err = s.ExecuteCommand(context.Background(), "config", "show", "--format", "yaml")
	s.Require().NoError(err)
	s.Contains(out, "osc_port: 9100")
	s.Contains(out, "midi_port: hroscmidi")
}

func (s *CommandsSuite) TestConfigSetRejectsInvalidValues() {
	_, err := s.ExecuteCommand(context.Background(), "config", "set", "mode", "serial")
	s.ErrorContains(err, "unknown sink mode")

	_, err = s.ExecuteCommand(context.Background(), "config", "set", "volume", "11")
	s.ErrorContains(err, "unknown config key")

	stored, err := config.NewStore(s.ConfigPath).Load()
	s.Require().NoError(err)
	s.Equal("osc", stored.Mode, "rejected values MUST NOT be persisted")
}

func (s *CommandsSuite) TestRunRequiresDeviceID() {
	_, err := s.ExecuteCommand(context.Background(), "run", "--duration", "10ms")
	s.ErrorIs(err, ErrNoDeviceID)
}

func (s *CommandsSuite) TestRunUnknownDevice() {
	s.Adapter.WithPeripherals(s.sensor(TestDeviceID1, "Polar H10"))

	_, err := s.ExecuteCommand(context.Background(), "run", TestDeviceID2, "--duration", "10ms")
	s.ErrorIs(err, device.ErrDeviceNotFound)
}

func (s *CommandsSuite) TestRunRelaysToOSCUntilCancelled() {
	// GOAL: Verify 'run' streams heart rate to OSC and disconnects on Ctrl+C
	//
	// TEST SCENARIO: sensor sends 72 bpm → OSC connected=true then 0.36 → cancel → link torn down, nil error

	port, receive := s.oscListener()
	s.WriteConfig(fmt.Sprintf(`{"osc_port": %d}`, port))
	sensor := s.sensor(TestDeviceID1, "Polar H10")
	s.Adapter.WithPeripherals(sensor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := s.Start(ctx, "run", TestDeviceID1, "--duration", "10ms", "--remember")

	s.Helper.Eventually(sensor.Subscribed, "sensor MUST be subscribed")
	s.True(sensor.NotifyBPM(72))

	status := receive()
	s.Equal("/avatar/parameters/hr_connected", status.Address)
	s.Equal([]interface{}{true}, status.Arguments)
	hr := receive()
	s.Equal("/avatar/parameters/hr_percent", hr.Address)
	s.Equal([]interface{}{float32(0.36)}, hr.Arguments)

	cancel()
	out, err := wait()
	s.Require().NoError(err, "Ctrl+C MUST be a clean exit")
	s.Contains(out.String(), "Relaying "+TestDeviceID1)
	s.Contains(out.String(), "72 bpm")
	s.GreaterOrEqual(sensor.Calls("disconnect"), 1, "link MUST be torn down on exit")

	stored, err := config.NewStore(s.ConfigPath).Load()
	s.Require().NoError(err)
	s.Equal(TestDeviceID1, stored.BluetoothDeviceID, "--remember MUST persist the device id")
}

func (s *CommandsSuite) TestRunUsesConfiguredDevice() {
	s.WriteConfig(fmt.Sprintf(`{"bluetooth_device_id": %q}`, TestDeviceID1))
	sensor := s.sensor(TestDeviceID1, "Polar H10")
	s.Adapter.WithPeripherals(sensor)

	wait := s.Start(context.Background(), "run", "--duration", "10ms")
	s.Helper.Eventually(sensor.Subscribed, "configured sensor MUST be used")
	sensor.Drop()

	_, err := wait()
	s.ErrorIs(err, ErrConnectionLost, "remote drop MUST end the run")
}

func (s *CommandsSuite) TestSendOSC() {
	port, receive := s.oscListener()

	out, err := s.ExecuteCommand(context.Background(), "send", "osc-float", "/test/value", "0.5", "--port", fmt.Sprint(port))
	s.Require().NoError(err)
	s.Contains(out, fmt.Sprintf("Sent to 127.0.0.1:%d", port))
	msg := receive()
	s.Equal("/test/value", msg.Address)
	s.Equal([]interface{}{float32(0.5)}, msg.Arguments)

	_, err = s.ExecuteCommand(context.Background(), "send", "osc-bool", "/test/flag", "false", "--port", fmt.Sprint(port))
	s.Require().NoError(err)
	s.Equal([]interface{}{false}, receive().Arguments)

	_, err = s.ExecuteCommand(context.Background(), "send", "osc-bool", "/test/flag", "maybe")
	s.ErrorContains(err, "invalid bool")
}

func (s *CommandsSuite) TestSendMIDINote() {
	port := &fakePort{name: "hroscmidi"}
	s.UsePorts(port)

	_, err := s.ExecuteCommand(context.Background(), "send", "midi-note", "60", "127")
	s.Require().NoError(err)
	_, err = s.ExecuteCommand(context.Background(), "send", "midi-note", "60", "0")
	s.Require().NoError(err)

	s.Equal([][]byte{{0x90, 60, 127}, {0x80, 60, 0}}, port.Sent())

	_, err = s.ExecuteCommand(context.Background(), "send", "midi-note", "128", "1")
	s.ErrorContains(err, "0..127")
}

func (s *CommandsSuite) TestSendMIDIUnknownPort() {
	s.UsePorts(&fakePort{name: "other"})

	_, err := s.ExecuteCommand(context.Background(), "send", "midi-note", "60", "127")
	s.ErrorIs(err, midi.ErrPortNotFound)
	s.Contains(FormatUserError(err), "midi_port")
}

func TestCommandsSuite(t *testing.T) {
	suite.Run(t, new(CommandsSuite))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string
	}{
		{name: "adapter", err: device.NewError(device.AdapterUnavailable, "", errors.New("off")), hint: "Bluetooth turned on"},
		{name: "not found", err: device.NewError(device.DeviceNotFound, "x", nil), hint: "hrbridge scan"},
		{name: "no hr characteristic", err: device.NewError(device.CharacteristicNotFound, "x", nil), hint: "heart-rate measurement"},
		{name: "timeout", err: device.NewError(device.Timeout, "x", nil), hint: "in range"},
		{name: "no id", err: ErrNoDeviceID, hint: "bluetooth_device_id"},
		{name: "plain", err: errors.New("boom"), hint: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.hint)
		})
	}
}

func TestProgressPrinter(t *testing.T) {
	buf := &syncBuffer{}
	p := NewCountdownProgressPrinter(buf, "Scanning for sensors", "Scanning", time.Second, "Processing results")
	p.Start()
	time.Sleep(150 * time.Millisecond)
	p.Callback()("Processing results")
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "Scanning for sensors (Scanning")
	assert.True(t, strings.HasSuffix(out, clearLineSequence), "Stop MUST clear the line")
	assert.Panics(t, p.Start, "a printer MUST NOT be restarted")
}

func TestHeartRateDisplay_LineMode(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "display")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	d := newHeartRateDisplay(f)
	assert.False(t, d.live, "a regular file MUST NOT get the live display")
}
