// Package midi sends heart-rate and status messages to a named MIDI output port.
package midi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// Channel is the MIDI channel every message is sent on.
const Channel uint8 = 0

// DefaultPacing is the mandatory delay after each heart-rate message.
const DefaultPacing = time.Second

// ErrPortNotFound is returned when no output port has the requested name.
var ErrPortNotFound = errors.New("MIDI port not found")

// ErrNoDriver is returned when no MIDI driver has been registered.
var ErrNoDriver = errors.New("no MIDI driver registered")

// Port is an output port as provided by a gomidi driver.
type Port interface {
	String() string
	Open() error
	Close() error
	Send(data []byte) error
}

// PortLister enumerates the available output ports.
type PortLister func() ([]Port, error)

// DriverPorts lists the output ports of the registered gomidi driver.
func DriverPorts() ([]Port, error) {
	drv := drivers.Get()
	if drv == nil {
		return nil, ErrNoDriver
	}

	outs, err := drv.Outs()
	if err != nil {
		return nil, fmt.Errorf("failed to list MIDI outputs: %w", err)
	}

	ports := make([]Port, 0, len(outs))
	for _, out := range outs {
		ports = append(ports, out)
	}
	return ports, nil
}

// Option configures a Sender
type Option func(*Sender)

// WithPorts replaces the port lister.
func WithPorts(l PortLister) Option {
	return func(s *Sender) { s.ports = l }
}

// WithPacing replaces the delay after heart-rate messages.
func WithPacing(d time.Duration) Option {
	return func(s *Sender) { s.pacing = d }
}

// Sender keeps one open output port and reopens it only when a different port name is requested.
// Every send holds the port lock, so heart-rate pacing also delays other messages on the sender.
type Sender struct {
	mu          sync.Mutex
	current     Port
	currentName string

	ports  PortLister
	pacing time.Duration
	logger *logrus.Logger
}

// NewSender creates a MIDI sender using the registered gomidi driver.
func NewSender(logger *logrus.Logger, opts ...Option) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Sender{
		ports:  DriverPorts,
		pacing: DefaultPacing,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendNote sends a note-on, or a note-off when velocity is 0.
func (s *Sender) SendNote(portName string, note, velocity uint8) error {
	msg := midi.NoteOn(Channel, note, velocity)
	if velocity == 0 {
		msg = midi.NoteOff(Channel, note)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := s.portLocked(portName)
	if err != nil {
		return err
	}
	if err := port.Send(msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send MIDI note to %q: %w", portName, err)
	}
	return nil
}

// SendHeartRate sends heartRate as a note-on whose key is the ones digit and whose
// velocity is the tens digit, then waits for the pacing delay before releasing the port.
func (s *Sender) SendHeartRate(portName string, heartRate uint8) error {
	ones, tens := heartRate%10, heartRate/10
	msg := midi.NoteOn(Channel, ones, tens)

	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := s.portLocked(portName)
	if err != nil {
		return err
	}
	if err := port.Send(msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send MIDI heart rate to %q: %w", portName, err)
	}

	s.logger.WithFields(logrus.Fields{
		"port":       portName,
		"heart_rate": heartRate,
	}).Trace("MIDI heart rate sent")

	time.Sleep(s.pacing)
	return nil
}

// Close closes the cached port.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current, s.currentName = nil, ""
	return err
}

// portLocked returns the open port named name, replacing the cached one if it differs.
func (s *Sender) portLocked(name string) (Port, error) {
	if s.current != nil && s.currentName == name {
		return s.current, nil
	}

	ports, err := s.ports()
	if err != nil {
		return nil, err
	}

	var found Port
	for _, p := range ports {
		if p.String() == name {
			found = p
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, name)
	}

	if err := found.Open(); err != nil {
		return nil, fmt.Errorf("failed to open MIDI port %q: %w", name, err)
	}

	if s.current != nil {
		if err := s.current.Close(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"port":  s.currentName,
				"error": err,
			}).Warn("Failed to close previous MIDI port")
		}
	}

	s.current, s.currentName = found, name
	s.logger.WithField("port", name).Info("MIDI output port opened")
	return found, nil
}
