// Package tinygo implements the transport interfaces on tinygo.org/x/bluetooth,
// which covers BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
package tinygo

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// Adapter implements device.Adapter with a tinygo bluetooth adapter.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	mu          sync.Mutex
	peripherals map[string]*Peripheral // by address, for link-loss dispatch
}

var (
	enableOnce sync.Once
	enableErr  error
	shared     *Adapter
)

// NewAdapter enables the default adapter. The adapter is process-wide and
// enabled once; later calls return the same instance.
func NewAdapter(logger *logrus.Logger) (device.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	enableOnce.Do(func() {
		enableErr = bluetooth.DefaultAdapter.Enable()
		if enableErr != nil {
			return
		}
		shared = &Adapter{
			adapter:     bluetooth.DefaultAdapter,
			logger:      logger,
			peripherals: make(map[string]*Peripheral),
		}
		bluetooth.DefaultAdapter.SetConnectHandler(shared.handleConnectEvent)
	})
	if enableErr != nil {
		return nil, device.NewError(device.AdapterUnavailable, "", device.NormalizeError(enableErr))
	}
	return shared, nil
}

// Scan runs discovery until ctx is done. The tinygo scan call blocks, so it is
// stopped from a watcher goroutine.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Peripheral)) error {
	return a.scan(ctx, a.adapter.Scan, a.adapter.StopScan, handler)
}

// scan holds the watcher logic. A scan that fails on its own stops the watcher
// before returning so that it cannot stop a later scan.
func (a *Adapter) scan(
	ctx context.Context,
	start func(func(*bluetooth.Adapter, bluetooth.ScanResult)) error,
	stop func() error,
	handler func(device.Peripheral),
) error {
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	watcher := groutine.Go(watchCtx, "tinygo-scan-stop", func(wctx context.Context) {
		select {
		case <-ctx.Done():
			if err := stop(); err != nil {
				a.logger.WithField("error", err).Debug("StopScan failed")
			}
		case <-wctx.Done():
		}
	})

	err := start(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		p := a.peripheral(result.Address)
		if name := result.LocalName(); name != "" {
			p.setName(name)
		}
		handler(p)
	})

	if ctx.Err() != nil {
		<-watcher.Done()
		return ctx.Err()
	}
	if err != nil {
		cancelWatch()
		<-watcher.Done()
		return device.NormalizeError(err)
	}
	// Scan returned on its own; wait for the caller's window anyway.
	<-ctx.Done()
	<-watcher.Done()
	return ctx.Err()
}

// peripheral returns the cached handle for address, creating it on first sight.
func (a *Adapter) peripheral(address bluetooth.Address) *Peripheral {
	id := address.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.peripherals[id]
	if !ok {
		p = newPeripheral(a, address)
		a.peripherals[id] = p
	}
	return p
}

func (a *Adapter) handleConnectEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}

	a.mu.Lock()
	p := a.peripherals[dev.Address.String()]
	a.mu.Unlock()

	if p != nil {
		p.handleLinkLost()
	}
}
