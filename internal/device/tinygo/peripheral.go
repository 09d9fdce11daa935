package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"tinygo.org/x/bluetooth"
)

// characteristic binds a tinygo characteristic to its service UUID
type characteristic struct {
	char    bluetooth.DeviceCharacteristic
	service string
}

func (c *characteristic) UUID() string        { return device.NormalizeUUID(c.char.UUID().String()) }
func (c *characteristic) ServiceUUID() string { return c.service }

// Peripheral implements device.Peripheral with tinygo bluetooth.
type Peripheral struct {
	adapter *Adapter
	address bluetooth.Address
	logger  *logrus.Logger

	mu    sync.Mutex
	name  string
	dev   *bluetooth.Device
	chars []device.Characteristic
	subs  map[string]*subscription
}

type subscription struct {
	char   *characteristic
	stream *device.Stream
}

func newPeripheral(a *Adapter, address bluetooth.Address) *Peripheral {
	return &Peripheral{
		adapter: a,
		address: address,
		logger:  a.logger,
		subs:    make(map[string]*subscription),
	}
}

func (p *Peripheral) ID() string { return p.address.String() }

func (p *Peripheral) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Peripheral) setName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

func (p *Peripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev != nil
}

// Connect establishes the link. The connection attempt timeout follows ctx's deadline.
func (p *Peripheral) Connect(ctx context.Context) error {
	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	dev, err := p.adapter.adapter.Connect(p.address, params)
	if err != nil {
		return device.NormalizeError(err)
	}
	if ctx.Err() != nil {
		// The caller gave up while the link came up; do not leak it.
		_ = dev.Disconnect()
		return ctx.Err()
	}

	p.mu.Lock()
	p.dev = &dev
	p.mu.Unlock()
	return nil
}

// DiscoverServices enumerates every service and characteristic.
func (p *Peripheral) DiscoverServices(ctx context.Context) error {
	dev, err := p.current()
	if err != nil {
		return err
	}

	services, err := dev.DiscoverServices(nil)
	if err != nil {
		return device.NormalizeError(err)
	}

	var chars []device.Characteristic
	for i := range services {
		svc := services[i]
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return device.NormalizeError(err)
		}
		serviceUUID := device.NormalizeUUID(svc.UUID().String())
		for j := range found {
			chars = append(chars, &characteristic{char: found[j], service: serviceUUID})
		}
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"device":          p.ID(),
		"services":        len(services),
		"characteristics": len(chars),
	}).Debug("Discovered GATT profile")
	return nil
}

func (p *Peripheral) Characteristics() []device.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Characteristic(nil), p.chars...)
}

func (p *Peripheral) Subscribe(ctx context.Context, char device.Characteristic) (<-chan []byte, error) {
	c, err := native(char)
	if err != nil {
		return nil, err
	}
	if _, err := p.current(); err != nil {
		return nil, err
	}

	stream := device.NewStream(device.DefaultStreamBuffer)
	if err := c.char.EnableNotifications(stream.Deliver); err != nil {
		return nil, device.NormalizeError(err)
	}

	p.mu.Lock()
	if old, ok := p.subs[c.UUID()]; ok {
		old.stream.Close()
	}
	p.subs[c.UUID()] = &subscription{char: c, stream: stream}
	p.mu.Unlock()

	return stream.C(), nil
}

// Unsubscribe disables notifications. The stream is closed even if the request fails.
func (p *Peripheral) Unsubscribe(ctx context.Context, char device.Characteristic) error {
	c, err := native(char)
	if err != nil {
		return err
	}

	p.mu.Lock()
	sub := p.subs[c.UUID()]
	delete(p.subs, c.UUID())
	connected := p.dev != nil
	p.mu.Unlock()

	if sub != nil {
		sub.stream.Close()
	}
	if !connected {
		return nil
	}
	return device.NormalizeError(c.char.EnableNotifications(nil))
}

func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	dev := p.dev
	p.dev = nil
	p.closeSubsLocked()
	p.mu.Unlock()

	if dev == nil {
		return nil
	}
	return device.NormalizeError(dev.Disconnect())
}

func (p *Peripheral) handleLinkLost() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev == nil {
		return
	}
	p.logger.WithField("device", p.ID()).Warn("BLE link lost")
	p.dev = nil
	p.closeSubsLocked()
}

func (p *Peripheral) closeSubsLocked() {
	for uuid, sub := range p.subs {
		sub.stream.Close()
		delete(p.subs, uuid)
	}
}

func (p *Peripheral) current() (*bluetooth.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return nil, device.NewError(device.LinkError, p.ID(), fmt.Errorf("not connected"))
	}
	return p.dev, nil
}

func native(char device.Characteristic) (*characteristic, error) {
	c, ok := char.(*characteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %T was not discovered by the tinygo backend", char)
	}
	return c, nil
}
