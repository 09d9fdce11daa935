// Package bridge relays heart-rate events to the downstream OSC and MIDI sinks.
package bridge

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/groutine"
	"github.com/srg/hrbridge/internal/ringchan"
	"github.com/srg/hrbridge/pkg/config"
	"github.com/srg/hrbridge/pkg/connection"
	"github.com/srg/hrbridge/pkg/sink"
)

const (
	// StatusNote is the MIDI note that mirrors the connection status.
	StatusNote uint8 = 60
	// StatusVelocity is the note-on velocity sent while connected.
	StatusVelocity uint8 = 127
	// MaxMIDIHeartRate is the upper clamp for the two-digit MIDI heart-rate message.
	MaxMIDIHeartRate = 200

	// DefaultQueueSize is the per-sink backlog before the oldest command is overwritten.
	DefaultQueueSize = 8
)

// OSCSender is the OSC sink used by the relay.
type OSCSender interface {
	SendFloat(host string, port int, address string, value float32) error
	SendBool(host string, port int, address string, value bool) error
}

// MIDISender is the MIDI sink used by the relay.
type MIDISender interface {
	SendNote(portName string, note, velocity uint8) error
	SendHeartRate(portName string, heartRate uint8) error
}

// Options configures a Relay.
type Options struct {
	Mode               sink.Mode
	MaxHR              float64
	OSCHost            string
	OSCPort            int
	HRPercentAddress   string
	HRConnectedAddress string
	MIDIPort           string
	DataTimeout        time.Duration // zero disables data-timeout supervision
	QueueSize          int           // zero means DefaultQueueSize
}

// OptionsFromConfig maps the persisted configuration onto relay options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:               cfg.SinkMode(),
		MaxHR:              cfg.MaxHR,
		OSCHost:            cfg.OSCIP,
		OSCPort:            cfg.OSCPort,
		HRPercentAddress:   cfg.HRPercentAddress,
		HRConnectedAddress: cfg.HRConnectedAddress,
		MIDIPort:           cfg.MIDIPort,
		DataTimeout:        cfg.DataTimeout(),
	}
}

// State is a snapshot of what the relay last forwarded.
type State struct {
	Connected  bool
	DeviceID   string
	HeartRate  float64
	LastSample time.Time
}

// Observer is notified after every state change. It runs on the caller's goroutine
// (the notification forwarder or the data-timeout timer) and must return quickly.
type Observer func(State)

// command is one unit of sink work. Every command carries the connection status
// current at dispatch time, so an overwritten status change is re-asserted by the next command.
type command struct {
	connected    bool
	hasHeartRate bool
	heartRate    float64
}

type worker struct {
	name  string
	queue *ringchan.RingChannel[command]
	task  *groutine.Task
}

// Relay implements connection.Emitter. It tracks the connection status, supervises the
// sample stream for silence and hands sink work to one worker per selected sink.
type Relay struct {
	opts     Options
	osc      OSCSender
	midi     MIDISender
	logger   *logrus.Logger
	observer Observer

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	closed bool

	workers []*worker
	cancel  context.CancelFunc
}

var _ connection.Emitter = (*Relay)(nil)

// NewRelay creates a relay and starts its sink workers.
// A nil sender disables its sink regardless of opts.Mode.
func NewRelay(opts Options, oscSender OSCSender, midiSender MIDISender, observer Observer, logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxHR <= 0 {
		opts.MaxHR = config.DefaultConfig().MaxHR
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		opts:     opts,
		osc:      oscSender,
		midi:     midiSender,
		logger:   logger,
		observer: observer,
		cancel:   cancel,
	}

	if opts.Mode.OSC() && oscSender != nil {
		r.startWorker(ctx, "relay-osc", r.applyOSC)
	}
	if opts.Mode.MIDI() && midiSender != nil {
		r.startWorker(ctx, "relay-midi", r.applyMIDI)
	}

	logger.WithFields(logrus.Fields{
		"mode":    opts.Mode,
		"workers": len(r.workers),
		"timeout": opts.DataTimeout,
	}).Debug("Relay started")

	return r
}

func (r *Relay) startWorker(ctx context.Context, name string, apply func(cmd command, statusChanged bool)) {
	w := &worker{name: name, queue: ringchan.New[command](r.opts.QueueSize)}
	w.task = groutine.Go(ctx, name, func(ctx context.Context) {
		lastStatus := false
		for {
			select {
			case <-ctx.Done():
				return
			case cmd, ok := <-w.queue.C():
				if !ok {
					return
				}
				changed := cmd.connected != lastStatus
				lastStatus = cmd.connected
				apply(cmd, changed)
			}
		}
	})
	r.workers = append(r.workers, w)
}

// Emit consumes a core event.
func (r *Relay) Emit(e connection.Event) {
	switch e.Type {
	case connection.EventHeartRate:
		r.handleSample(e)
	case connection.EventConnected:
		r.handleStatus(e.DeviceID, e.Connected)
	default:
		r.logger.WithField("type", e.Type).Debug("Relay ignored unknown event")
	}
}

// State returns the current relay state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) handleSample(e connection.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if e.HeartRate > 0 {
		r.state.Connected = true
		r.state.DeviceID = e.DeviceID
		r.state.LastSample = e.Time
		if r.state.LastSample.IsZero() {
			r.state.LastSample = time.Now()
		}
		r.armTimerLocked(r.opts.DataTimeout)
	}
	// Samples are forwarded only while connected.
	if !r.state.Connected {
		r.mu.Unlock()
		return
	}
	r.state.HeartRate = e.HeartRate
	cmd := command{connected: true, hasHeartRate: true, heartRate: e.HeartRate}
	snapshot := r.state
	r.dispatchLocked(cmd)
	r.mu.Unlock()

	r.notify(snapshot)
}

func (r *Relay) handleStatus(deviceID string, connected bool) {
	r.mu.Lock()
	if r.closed || r.state.Connected == connected {
		r.mu.Unlock()
		return
	}
	snapshot := r.setStatusLocked(deviceID, connected)
	r.mu.Unlock()

	r.notify(snapshot)
}

// expire runs on the data-timeout timer.
func (r *Relay) expire() {
	r.mu.Lock()
	if r.closed || !r.state.Connected {
		r.mu.Unlock()
		return
	}
	// A sample may have arrived between the timer firing and this lock.
	if remaining := r.opts.DataTimeout - time.Since(r.state.LastSample); remaining > 0 {
		r.armTimerLocked(remaining)
		r.mu.Unlock()
		return
	}

	r.logger.WithFields(logrus.Fields{
		"device":  r.state.DeviceID,
		"timeout": r.opts.DataTimeout,
	}).Info("No heart-rate data received, reporting disconnected")
	snapshot := r.setStatusLocked(r.state.DeviceID, false)
	r.mu.Unlock()

	r.notify(snapshot)
}

func (r *Relay) setStatusLocked(deviceID string, connected bool) State {
	r.state.Connected = connected
	if deviceID != "" {
		r.state.DeviceID = deviceID
	}
	if connected {
		r.state.LastSample = time.Now()
		r.armTimerLocked(r.opts.DataTimeout)
	} else if r.timer != nil {
		r.timer.Stop()
	}

	r.logger.WithFields(logrus.Fields{
		"device":    r.state.DeviceID,
		"connected": connected,
	}).Debug("Relay status changed")

	r.dispatchLocked(command{connected: connected})
	return r.state
}

func (r *Relay) armTimerLocked(d time.Duration) {
	if r.opts.DataTimeout <= 0 {
		return
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(d, r.expire)
		return
	}
	r.timer.Reset(d)
}

func (r *Relay) dispatchLocked(cmd command) {
	for _, w := range r.workers {
		if w.queue.Send(cmd) {
			r.logger.WithField("worker", w.name).Debug("Sink is behind, dropped oldest command")
		}
	}
}

func (r *Relay) notify(s State) {
	if r.observer != nil {
		r.observer(s)
	}
}

func (r *Relay) applyOSC(cmd command, statusChanged bool) {
	if statusChanged {
		if err := r.osc.SendBool(r.opts.OSCHost, r.opts.OSCPort, r.opts.HRConnectedAddress, cmd.connected); err != nil {
			r.logger.WithError(err).Warn("Failed to send OSC connection status")
		}
	}
	if cmd.hasHeartRate {
		value := float32(cmd.heartRate / r.opts.MaxHR)
		if err := r.osc.SendFloat(r.opts.OSCHost, r.opts.OSCPort, r.opts.HRPercentAddress, value); err != nil {
			r.logger.WithError(err).Warn("Failed to send OSC heart rate")
		}
	}
}

func (r *Relay) applyMIDI(cmd command, statusChanged bool) {
	if statusChanged {
		var velocity uint8
		if cmd.connected {
			velocity = StatusVelocity
		}
		if err := r.midi.SendNote(r.opts.MIDIPort, StatusNote, velocity); err != nil {
			r.logger.WithError(err).Warn("Failed to send MIDI connection status")
		}
	}
	if cmd.hasHeartRate {
		if err := r.midi.SendHeartRate(r.opts.MIDIPort, MIDIHeartRate(cmd.heartRate)); err != nil {
			r.logger.WithError(err).Warn("Failed to send MIDI heart rate")
		}
	}
}

// MIDIHeartRate rounds hr and clamps it to 0..MaxMIDIHeartRate.
func MIDIHeartRate(hr float64) uint8 {
	v := math.Round(hr)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > MaxMIDIHeartRate {
		return MaxMIDIHeartRate
	}
	return uint8(v)
}

// Close stops supervision and lets the workers drain their queues.
// It returns ctx.Err() if the workers did not finish in time; they are then cancelled.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()

	for _, w := range r.workers {
		w.queue.Close()
	}

	var errs []error
	for _, w := range r.workers {
		if err := w.task.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.cancel()
	return errors.Join(errs...)
}
