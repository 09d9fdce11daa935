package goble

import (
	"context"
	"fmt"
	"sync"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/groutine"
)

// characteristic binds a go-ble characteristic to its service UUID
type characteristic struct {
	char    *ble.Characteristic
	service string
}

func (c *characteristic) UUID() string        { return device.NormalizeUUID(c.char.UUID.String()) }
func (c *characteristic) ServiceUUID() string { return c.service }

// Peripheral implements device.Peripheral with go-ble.
type Peripheral struct {
	dev    ble.Device
	addr   string
	logger *logrus.Logger

	mu     sync.Mutex
	name   string
	client ble.Client
	chars  []device.Characteristic
	subs   map[string]*device.Stream
}

func newPeripheral(dev ble.Device, addr string, logger *logrus.Logger) *Peripheral {
	return &Peripheral{
		dev:    dev,
		addr:   addr,
		logger: logger,
		subs:   make(map[string]*device.Stream),
	}
}

func (p *Peripheral) ID() string { return p.addr }

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
	return p.client != nil
}

// Connect dials the peripheral and starts monitoring the link.
func (p *Peripheral) Connect(ctx context.Context) error {
	p.logger.WithField("device", p.addr).Debug("Dialing BLE device...")

	client, err := p.dev.Dial(ctx, ble.NewAddr(p.addr))
	if err != nil {
		return NormalizeError(err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	// Not every go-ble client exposes link loss; without it the stream only ends on explicit teardown.
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-link-monitor-"+p.addr, func(context.Context) {
			<-dc.Disconnected()
			p.handleLinkLost(client)
		})
	} else {
		p.logger.WithField("device", p.addr).Debug("Client does not support Disconnected() channel")
	}

	return nil
}

// DiscoverServices reads the full GATT profile.
func (p *Peripheral) DiscoverServices(ctx context.Context) error {
	client, err := p.currentClient()
	if err != nil {
		return err
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return NormalizeError(err)
	}

	var chars []device.Characteristic
	for _, svc := range profile.Services {
		serviceUUID := device.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			chars = append(chars, &characteristic{char: c, service: serviceUUID})
		}
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"device":          p.addr,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Debug("Discovered GATT profile")
	return nil
}

func (p *Peripheral) Characteristics() []device.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Characteristic(nil), p.chars...)
}

// Subscribe enables notifications on char and returns its stream.
func (p *Peripheral) Subscribe(ctx context.Context, char device.Characteristic) (<-chan []byte, error) {
	c, err := p.native(char)
	if err != nil {
		return nil, err
	}
	client, err := p.currentClient()
	if err != nil {
		return nil, err
	}

	if c.char.Property&ble.CharNotify == 0 {
		return nil, fmt.Errorf("characteristic %s does not support notifications", c.UUID())
	}

	sub := device.NewStream(device.DefaultStreamBuffer)
	if err := client.Subscribe(c.char, false, sub.Deliver); err != nil {
		return nil, NormalizeError(err)
	}

	p.mu.Lock()
	if old, ok := p.subs[c.UUID()]; ok {
		old.Close()
	}
	p.subs[c.UUID()] = sub
	p.mu.Unlock()

	return sub.C(), nil
}

// Unsubscribe disables notifications on char. The stream is closed even if the
// remote side rejects the request.
func (p *Peripheral) Unsubscribe(ctx context.Context, char device.Characteristic) error {
	c, err := p.native(char)
	if err != nil {
		return err
	}

	p.mu.Lock()
	sub := p.subs[c.UUID()]
	delete(p.subs, c.UUID())
	client := p.client
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if client == nil {
		return nil
	}
	return NormalizeError(client.Unsubscribe(c.char, false))
}

// Disconnect closes every stream and cancels the link.
func (p *Peripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.closeSubsLocked()
	p.mu.Unlock()

	if client == nil {
		return nil
	}

	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	p.logger.WithField("device", p.addr).Debug("BLE link cancelled")
	return nil
}

func (p *Peripheral) handleLinkLost(client ble.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != client {
		return
	}
	p.logger.WithField("device", p.addr).Warn("BLE link lost")
	p.client = nil
	p.closeSubsLocked()
}

func (p *Peripheral) closeSubsLocked() {
	for uuid, sub := range p.subs {
		sub.Close()
		delete(p.subs, uuid)
	}
}

func (p *Peripheral) currentClient() (ble.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, device.NewError(device.LinkError, p.addr, fmt.Errorf("not connected"))
	}
	return p.client, nil
}

func (p *Peripheral) native(char device.Characteristic) (*characteristic, error) {
	c, ok := char.(*characteristic)
	if !ok || c.char == nil {
		return nil, fmt.Errorf("characteristic %T was not discovered by the go-ble backend", char)
	}
	return c, nil
}
