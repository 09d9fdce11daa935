package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/pkg/heartrate"
)

// FakeCharacteristic is a static device.Characteristic
type FakeCharacteristic struct {
	Char    string
	Service string
}

func (c FakeCharacteristic) UUID() string        { return c.Char }
func (c FakeCharacteristic) ServiceUUID() string { return c.Service }

// FakeAdapter is an in-memory device.Adapter.
// Scan reports every configured peripheral once and then waits for ctx to end.
type FakeAdapter struct {
	mu          sync.Mutex
	peripherals []*FakePeripheral
	scanErr     error
	scanCalls   int
}

// NewFakeAdapter creates an adapter advertising the given peripherals.
func NewFakeAdapter(peripherals ...*FakePeripheral) *FakeAdapter {
	return &FakeAdapter{peripherals: peripherals}
}

// WithPeripherals appends advertising peripherals.
func (a *FakeAdapter) WithPeripherals(peripherals ...*FakePeripheral) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals = append(a.peripherals, peripherals...)
	return a
}

// WithScanError makes Scan fail immediately with err.
func (a *FakeAdapter) WithScanError(err error) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanErr = err
	return a
}

// ScanCalls returns how many times Scan was invoked.
func (a *FakeAdapter) ScanCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanCalls
}

func (a *FakeAdapter) Scan(ctx context.Context, handler func(device.Peripheral)) error {
	a.mu.Lock()
	a.scanCalls++
	err := a.scanErr
	peripherals := append([]*FakePeripheral(nil), a.peripherals...)
	a.mu.Unlock()

	if err != nil {
		return err
	}

	for _, p := range peripherals {
		handler(p)
	}

	<-ctx.Done()
	return ctx.Err()
}

// FakePeripheral is an in-memory device.Peripheral with a fluent builder API:
//
//	p := testutils.NewPeripheral("AA:BB").WithName("ChestStrap1").WithHeartRate()
//	...
//	p.Notify([]byte{0x00, 72})
//	p.Drop() // remote side went away
type FakePeripheral struct {
	mu sync.Mutex

	id    string
	name  string
	chars []device.Characteristic

	connected  bool
	discovered []device.Characteristic
	stream     chan []byte

	connectErr     error
	discoverErr    error
	subscribeErr   error
	unsubscribeErr error
	disconnectErr  error
	connectDelay   time.Duration

	calls map[string]int
}

// NewPeripheral creates a fake peripheral with the given identifier.
func NewPeripheral(id string) *FakePeripheral {
	return &FakePeripheral{id: id, calls: map[string]int{}}
}

func (p *FakePeripheral) WithName(name string) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	return p
}

// WithCharacteristic exposes a characteristic after service discovery.
func (p *FakePeripheral) WithCharacteristic(serviceUUID, charUUID string) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chars = append(p.chars, FakeCharacteristic{Char: charUUID, Service: serviceUUID})
	return p
}

// WithHeartRate exposes the Heart Rate Measurement characteristic.
func (p *FakePeripheral) WithHeartRate() *FakePeripheral {
	return p.WithCharacteristic(device.HeartRateServiceUUID, device.HeartRateMeasurementUUID)
}

// WithLink marks the peripheral as already link-connected.
func (p *FakePeripheral) WithLink() *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return p
}

func (p *FakePeripheral) WithConnectError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
	return p
}

func (p *FakePeripheral) WithDiscoverError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoverErr = err
	return p
}

func (p *FakePeripheral) WithSubscribeError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribeErr = err
	return p
}

func (p *FakePeripheral) WithUnsubscribeError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubscribeErr = err
	return p
}

func (p *FakePeripheral) WithDisconnectError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectErr = err
	return p
}

// WithConnectDelay makes Connect block for d, or until its context ends.
func (p *FakePeripheral) WithConnectDelay(d time.Duration) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectDelay = d
	return p
}

func (p *FakePeripheral) ID() string { return p.id }

func (p *FakePeripheral) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *FakePeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *FakePeripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.calls["connect"]++
	delay, err := p.connectDelay, p.connectErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *FakePeripheral) DiscoverServices(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["discover"]++
	if p.discoverErr != nil {
		return p.discoverErr
	}
	p.discovered = append([]device.Characteristic(nil), p.chars...)
	return nil
}

func (p *FakePeripheral) Characteristics() []device.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Characteristic(nil), p.discovered...)
}

func (p *FakePeripheral) Subscribe(ctx context.Context, char device.Characteristic) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["subscribe"]++
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	p.closeStreamLocked()
	p.stream = make(chan []byte, 256)
	return p.stream, nil
}

func (p *FakePeripheral) Unsubscribe(ctx context.Context, char device.Characteristic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["unsubscribe"]++
	p.closeStreamLocked()
	return p.unsubscribeErr
}

func (p *FakePeripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["disconnect"]++
	p.closeStreamLocked()
	if p.disconnectErr != nil {
		return p.disconnectErr
	}
	p.connected = false
	return nil
}

// Notify pushes raw frames to the active subscription.
// Returns false if there is no active subscription.
func (p *FakePeripheral) Notify(frames ...[]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return false
	}
	for _, f := range frames {
		p.stream <- f
	}
	return true
}

// NotifyBPM pushes one encoded heart-rate frame per value.
func (p *FakePeripheral) NotifyBPM(values ...uint16) bool {
	frames := make([][]byte, 0, len(values))
	for _, v := range values {
		frames = append(frames, heartrate.Encode(v))
	}
	return p.Notify(frames...)
}

// Drop simulates a remote link loss.
func (p *FakePeripheral) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.closeStreamLocked()
}

// Subscribed reports whether a notification stream is open.
func (p *FakePeripheral) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// Calls returns how many times op was invoked: connect, discover, subscribe, unsubscribe or disconnect.
func (p *FakePeripheral) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *FakePeripheral) closeStreamLocked() {
	if p.stream != nil {
		close(p.stream)
		p.stream = nil
	}
}
