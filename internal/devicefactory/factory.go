package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	goble "github.com/srg/hrbridge/internal/device/go-ble"
	"github.com/srg/hrbridge/internal/device/tinygo"
)

// Supported transport backends
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Backends lists the accepted backend names, default first.
var Backends = []string{BackendGoBLE, BackendTinyGo}

// AdapterFactory opens the local adapter of the named backend.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger) (device.Adapter, error) {
	switch backend {
	case "", BackendGoBLE:
		return goble.NewAdapter(logger)
	case BackendTinyGo:
		return tinygo.NewAdapter(logger)
	default:
		return nil, fmt.Errorf("unknown bluetooth backend %q (supported: %v)", backend, Backends)
	}
}

// Open opens the adapter for backend and classifies any failure as AdapterUnavailable.
func Open(backend string, logger *logrus.Logger) (device.Adapter, error) {
	adapter, err := AdapterFactory(backend, logger)
	if err != nil {
		return nil, device.Wrap(device.AdapterUnavailable, "", device.NormalizeError(err))
	}
	return adapter, nil
}

// IsSupported reports whether backend names a known transport backend.
func IsSupported(backend string) bool {
	for _, b := range Backends {
		if b == backend {
			return true
		}
	}
	return false
}
