package goble

import (
	"context"
	"sync"

	ble "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// Adapter implements device.Adapter on top of a go-ble HCI/CoreBluetooth device.
type Adapter struct {
	dev    ble.Device
	logger *logrus.Logger
}

var (
	sharedMu sync.Mutex
	shared   *Adapter
)

// NewAdapter opens the platform BLE device. On Linux the HCI user channel is
// exclusive, so the device is opened once per process and later calls return
// the same adapter. A failed open is retried on the next call.
func NewAdapter(logger *logrus.Logger) (device.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	shared = &Adapter{dev: dev, logger: logger}
	return shared, nil
}

// Scan runs active discovery with duplicates allowed so that names carried by
// scan responses reach already reported peripherals.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Peripheral)) error {
	var mu sync.Mutex
	seen := make(map[string]*Peripheral)

	err := a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		id := adv.Addr().String()

		mu.Lock()
		p, ok := seen[id]
		if !ok {
			p = newPeripheral(a.dev, id, a.logger)
			seen[id] = p
		}
		mu.Unlock()

		if name := adv.LocalName(); name != "" {
			p.setName(name)
		}
		handler(p)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return NormalizeError(err)
}
