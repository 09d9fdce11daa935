package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a device-level failure
type Kind string

const (
	AdapterUnavailable     Kind = "adapter_unavailable"
	TransportError         Kind = "transport_error"
	DeviceNotFound         Kind = "device_not_found"
	LinkError              Kind = "link_error"
	CharacteristicNotFound Kind = "characteristic_not_found"
	SubscribeError         Kind = "subscribe_error"
	Timeout                Kind = "timeout"
	AlreadyConnected       Kind = "already_connected"
)

var kindMessages = map[Kind]string{
	AdapterUnavailable:     "no bluetooth adapter available",
	TransportError:         "bluetooth transport error",
	DeviceNotFound:         "device not found",
	LinkError:              "failed to establish link",
	CharacteristicNotFound: "heart rate measurement characteristic not found",
	SubscribeError:         "failed to subscribe to notifications",
	Timeout:                "operation timed out",
	AlreadyConnected:       "another device is already connected",
}

// Error is a classified device failure
type Error struct {
	Kind   Kind
	Device string // device identifier, empty when not device specific
	Err    error  // underlying cause
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg, ok := kindMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	if e.Device != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.Device)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is checks
var (
	ErrAdapterUnavailable     = &Error{Kind: AdapterUnavailable}
	ErrTransport              = &Error{Kind: TransportError}
	ErrDeviceNotFound         = &Error{Kind: DeviceNotFound}
	ErrLink                   = &Error{Kind: LinkError}
	ErrCharacteristicNotFound = &Error{Kind: CharacteristicNotFound}
	ErrSubscribe              = &Error{Kind: SubscribeError}
	ErrTimeout                = &Error{Kind: Timeout}
	ErrAlreadyConnected       = &Error{Kind: AlreadyConnected}
)

// NewError creates a classified error for the given device.
func NewError(kind Kind, deviceID string, err error) *Error {
	return &Error{Kind: kind, Device: deviceID, Err: err}
}

// Wrap classifies err with kind unless it is already classified.
// Deadline expiry is always reported as Timeout.
func Wrap(kind Kind, deviceID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(Timeout, deviceID, err)
	}
	var derr *Error
	if errors.As(err, &derr) {
		return err
	}
	return NewError(kind, deviceID, err)
}

// KindOf reports the Kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind, true
	}
	return "", false
}

// NormalizeError maps well-known driver messages to classified errors.
// Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "no such device"),
		containsIgnoreCase(msg, "adapter not found"),
		containsIgnoreCase(msg, "can't init hci"):
		return NewError(AdapterUnavailable, "", err)
	case containsIgnoreCase(msg, "operation not permitted"):
		return NewError(AdapterUnavailable, "", fmt.Errorf("%w (missing CAP_NET_ADMIN?)", err))
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
