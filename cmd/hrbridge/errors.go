package main

import (
	"errors"
	"fmt"

	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/pkg/sink/midi"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the sensor link dropped while relaying.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoDeviceID indicates neither an argument nor bluetooth_device_id named a sensor.
	ErrNoDeviceID = errors.New("no device id given")
)

// FormatUserError appends a hint for the error kinds a user can act on.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrAdapterUnavailable):
		return fmt.Sprintf("%s (is Bluetooth turned on and accessible?)", err)
	case errors.Is(err, device.ErrDeviceNotFound):
		return fmt.Sprintf("%s (run 'hrbridge scan' and check the device id)", err)
	case errors.Is(err, device.ErrCharacteristicNotFound):
		return fmt.Sprintf("%s (the device does not expose a heart-rate measurement)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%s (is the sensor awake and in range?)", err)
	case errors.Is(err, ErrNoDeviceID):
		return fmt.Sprintf("%s (pass a device id or set bluetooth_device_id with 'hrbridge config set')", err)
	case errors.Is(err, midi.ErrPortNotFound):
		return fmt.Sprintf("%s (create the port or set midi_port with 'hrbridge config set')", err)
	default:
		return err.Error()
	}
}
