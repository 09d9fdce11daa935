package device

import (
	"context"
)

// Heart Rate GATT identifiers (16-bit short form, normalized)
const (
	HeartRateServiceUUID     = "180d"
	HeartRateMeasurementUUID = "2a37"
)

// Adapter is a local BLE transport adapter capable of active discovery.
type Adapter interface {
	// Scan runs active discovery and reports every advertising peripheral until ctx is done.
	// The same Peripheral handle is reported again when a later advertisement updates it.
	// Returns ctx.Err() when discovery stopped because ctx ended.
	Scan(ctx context.Context, handler func(Peripheral)) error
}

// Peripheral is a discovered device handle owned by the transport backend.
type Peripheral interface {
	// ID returns the stable transport identifier (address on most platforms).
	ID() string
	// Name returns the advertised local name, empty if none was advertised.
	Name() string
	IsConnected() bool

	Connect(ctx context.Context) error
	DiscoverServices(ctx context.Context) error
	// Characteristics returns the characteristics found by the last DiscoverServices call.
	Characteristics() []Characteristic

	// Subscribe enables notifications and returns the notification stream.
	// The transport closes the stream on Unsubscribe, Disconnect or link loss.
	Subscribe(ctx context.Context, char Characteristic) (<-chan []byte, error)
	Unsubscribe(ctx context.Context, char Characteristic) error
	Disconnect(ctx context.Context) error
}

// Characteristic identifies a GATT characteristic exposed by a connected peripheral.
type Characteristic interface {
	UUID() string
	ServiceUUID() string
}

// FindCharacteristic returns the first characteristic with the given UUID.
func FindCharacteristic(chars []Characteristic, uuid string) (Characteristic, bool) {
	want := NormalizeUUID(uuid)
	for _, c := range chars {
		if NormalizeUUID(c.UUID()) == want {
			return c, true
		}
	}
	return nil, false
}
