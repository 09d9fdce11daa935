package connection

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/groutine"
)

// Policy decides what Connect does while another device is active.
type Policy int

const (
	// RejectWhenActive fails Connect with AlreadyConnected while another session is active
	RejectWhenActive Policy = iota
	// ReplaceActive disconnects the active device first
	ReplaceActive
)

func (p Policy) String() string {
	switch p {
	case ReplaceActive:
		return "replace"
	default:
		return "reject"
	}
}

// DefaultDrainTimeout bounds how long Disconnect waits for a forwarder to stop
// when no step timeout is configured.
const DefaultDrainTimeout = 5 * time.Second

// Options configures the Manager
type Options struct {
	// StepTimeout bounds each connect sub-step (link, discovery, subscribe). Zero disables it.
	StepTimeout time.Duration
	Policy      Policy
}

// Manager connects and disconnects heart-rate sensors known to a Registry.
type Manager struct {
	registry *Registry
	emitter  Emitter
	opts     Options
	logger   *logrus.Logger
}

// NewManager creates a Manager. A nil emitter drops events; a nil logger uses logrus.New().
func NewManager(registry *Registry, emitter Emitter, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Manager{
		registry: registry,
		emitter:  emitter,
		opts:     opts,
		logger:   logger,
	}
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect establishes the link to a known device, subscribes to its heart-rate
// measurements and publishes it as the active session.
//
// On success a connected event is emitted and a forwarder starts emitting
// heart_rate_update events. Any failure leaves the active session untouched.
// Concurrent connects to the same device are serialized: later callers wait
// for the first one and succeed without touching the link if it won.
func (m *Manager) Connect(ctx context.Context, id string) error {
	log := m.logger.WithField("device", id)

	p, ok := m.registry.Lookup(id)
	if !ok {
		return device.NewError(device.DeviceNotFound, id, nil)
	}

	release, err := m.claim(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if active := m.registry.Active(); active != nil {
		if active.DeviceID() == id {
			log.WithField("session", active.ID).Debug("Device is already the active connection")
			return nil
		}
		if m.opts.Policy != ReplaceActive {
			return device.NewError(device.AlreadyConnected, active.DeviceID(), nil)
		}
		log.WithField("active", active.DeviceID()).Info("Replacing active connection")
		m.Disconnect(ctx, active.DeviceID())
	}

	linked := false
	if !p.IsConnected() {
		log.Info("Connecting to device...")
		if err := m.step(ctx, "link", id, p.Connect); err != nil {
			m.teardown(ctx, p, nil, true)
			return device.Wrap(device.LinkError, id, err)
		}
		linked = true
	}

	log.Debug("Discovering services...")
	if err := m.step(ctx, "discover", id, p.DiscoverServices); err != nil {
		m.teardown(ctx, p, nil, linked)
		return device.Wrap(device.LinkError, id, err)
	}

	char, ok := device.FindCharacteristic(p.Characteristics(), device.HeartRateMeasurementUUID)
	if !ok {
		m.teardown(ctx, p, nil, linked)
		return device.NewError(device.CharacteristicNotFound, id, nil)
	}

	var stream <-chan []byte
	err = m.step(ctx, "subscribe", id, func(ctx context.Context) error {
		var err error
		stream, err = p.Subscribe(ctx, char)
		return err
	})
	if err != nil {
		m.teardown(ctx, p, char, linked)
		return device.Wrap(device.SubscribeError, id, err)
	}

	s := newSession(p, char, stream)
	log = log.WithField("session", s.ID)

	// The forwarder is started before publishing so the session is immutable once
	// visible; it waits on the gate until the connected event has been emitted.
	gate := make(chan bool, 1)
	s.task = groutine.Go(context.WithoutCancel(ctx), "hr-forwarder-"+id, func(ctx context.Context) {
		if <-gate {
			m.forward(ctx, s)
		}
	})

	if !m.registry.publish(s) {
		gate <- false
		m.teardown(ctx, p, char, linked)
		active := m.registry.Active()
		activeID := id
		if active != nil {
			activeID = active.DeviceID()
		}
		log.Warn("Lost publish race, another device became active")
		return device.NewError(device.AlreadyConnected, activeID, nil)
	}

	log.WithFields(logrus.Fields{
		"name":           p.Name(),
		"characteristic": char.UUID(),
	}).Info("Connected, receiving heart rate notifications")

	m.emit(Event{Type: EventConnected, DeviceID: id, SessionID: s.ID, Connected: true})
	gate <- true
	return nil
}

// claim reserves id for this connect, waiting while another connect of the
// same device is in progress.
func (m *Manager) claim(ctx context.Context, id string) (func(), error) {
	for {
		release, busy := m.registry.claim(id)
		if release != nil {
			return release, nil
		}
		m.logger.WithField("device", id).Debug("Waiting for a concurrent connect of the same device")
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, device.Wrap(device.LinkError, id, ctx.Err())
		}
	}
}

// Disconnect tears down the link to id and leaves the registry without an active session.
//
// Teardown is best-effort: unsubscribe and link-close failures are logged, never returned.
// An active session of another device is torn down as well. Calling Disconnect for an
// unknown or already disconnected device is a no-op that still clears the active slot.
func (m *Manager) Disconnect(ctx context.Context, id string) {
	log := m.logger.WithField("device", id)
	active := m.registry.Active()

	if p, ok := m.registry.Lookup(id); ok && (active == nil || active.DeviceID() != id) {
		if p.IsConnected() {
			char, _ := device.FindCharacteristic(p.Characteristics(), device.HeartRateMeasurementUUID)
			m.teardown(ctx, p, char, true)
		} else {
			log.Debug("Device is not connected, nothing to tear down")
		}
	}

	if active == nil {
		return
	}

	if active.DeviceID() != id {
		log.WithField("active", active.DeviceID()).Warn("Disconnecting active device of a different identifier")
	}
	if active.Peripheral.IsConnected() {
		m.teardown(ctx, active.Peripheral, active.Characteristic, true)
	} else {
		// Link is gone; closing the subscription still releases the stream.
		m.unsubscribe(ctx, active.Peripheral, active.Characteristic)
	}

	m.awaitForwarder(ctx, active)
	m.registry.Release(active)
	log.WithField("session", active.ID).Info("Disconnected")
}

// Close disconnects the active device, if any.
func (m *Manager) Close(ctx context.Context) {
	if active := m.registry.Active(); active != nil {
		m.Disconnect(ctx, active.DeviceID())
	}
}

func (m *Manager) awaitForwarder(ctx context.Context, s *Session) {
	timeout := m.opts.StepTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.task.Wait(waitCtx); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device":  s.DeviceID(),
			"session": s.ID,
		}).Warn("Notification forwarder did not stop in time")
	}
}

// step runs fn bounded by the step timeout. A transport call that ignores its
// context is abandoned once the deadline passes.
func (m *Manager) step(ctx context.Context, name, id string, fn func(context.Context) error) error {
	if m.opts.StepTimeout <= 0 {
		return fn(ctx)
	}

	stepCtx, cancel := context.WithTimeout(ctx, m.opts.StepTimeout)
	defer cancel()

	result := make(chan error, 1)
	groutine.Go(stepCtx, "connect-"+name+"-"+id, func(ctx context.Context) {
		result <- fn(ctx)
	})

	select {
	case err := <-result:
		return err
	case <-stepCtx.Done():
		m.logger.WithFields(logrus.Fields{
			"device": id,
			"step":   name,
		}).Warn("Connect step timed out")
		return stepCtx.Err()
	}
}

// teardown unsubscribes char (if set) and, when disconnect is set, closes the link.
func (m *Manager) teardown(ctx context.Context, p device.Peripheral, char device.Characteristic, disconnect bool) {
	ctx, cancel := m.teardownContext(ctx)
	defer cancel()

	m.unsubscribe(ctx, p, char)
	if !disconnect {
		return
	}
	if err := p.Disconnect(ctx); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device": p.ID(),
			"error":  err,
		}).Warn("Failed to close link")
	}
}

func (m *Manager) unsubscribe(ctx context.Context, p device.Peripheral, char device.Characteristic) {
	if char == nil {
		return
	}
	if err := p.Unsubscribe(ctx, char); err != nil {
		m.logger.WithFields(logrus.Fields{
			"device":         p.ID(),
			"characteristic": char.UUID(),
			"error":          err,
		}).Warn("Failed to unsubscribe")
	}
}

// teardownContext detaches from the caller's cancellation so a cancelled connect
// still releases the link, bounded by the step timeout when configured.
func (m *Manager) teardownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if m.opts.StepTimeout > 0 {
		return context.WithTimeout(ctx, m.opts.StepTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	m.emitter.Emit(e)
}
