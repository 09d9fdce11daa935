package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsComparesKind(t *testing.T) {
	err := NewError(DeviceNotFound, "ZZ:ZZ", nil)

	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NotErrorIs(t, err, ErrLink)
	assert.ErrorIs(t, fmt.Errorf("connect: %w", err), ErrDeviceNotFound, "wrapped error MUST keep its kind")
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind only",
			err:      &Error{Kind: AdapterUnavailable},
			expected: "no bluetooth adapter available",
		},
		{
			name:     "with device",
			err:      &Error{Kind: DeviceNotFound, Device: "ZZ:ZZ"},
			expected: `device not found: "ZZ:ZZ"`,
		},
		{
			name:     "with device and cause",
			err:      &Error{Kind: LinkError, Device: "AA:BB", Err: errors.New("le-connection-abort")},
			expected: `failed to establish link: "AA:BB": le-connection-abort`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")

	assert.Nil(t, Wrap(LinkError, "AA:BB", nil))

	err := Wrap(SubscribeError, "AA:BB", cause)
	assert.ErrorIs(t, err, ErrSubscribe)
	assert.ErrorIs(t, err, cause, "cause MUST stay in the chain")

	err = Wrap(LinkError, "AA:BB", fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrTimeout, "deadline expiry MUST be reported as timeout")

	classified := NewError(AdapterUnavailable, "", cause)
	assert.Same(t, classified, Wrap(LinkError, "AA:BB", classified), "classified errors MUST pass through")
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(fmt.Errorf("x: %w", ErrCharacteristicNotFound))
	assert.True(t, ok)
	assert.Equal(t, CharacteristicNotFound, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectKind Kind
	}{
		{
			name:       "darwin bluetooth off",
			err:        errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectKind: AdapterUnavailable,
		},
		{
			name:       "linux missing hci",
			err:        errors.New("can't init hci: no devices available: (hci0: can't down device: no such device)"),
			expectKind: AdapterUnavailable,
		},
		{
			name:       "linux missing capabilities",
			err:        errors.New("can't init hci: operation not permitted"),
			expectKind: AdapterUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindOf(NormalizeError(tt.err))
			assert.True(t, ok)
			assert.Equal(t, tt.expectKind, kind)
		})
	}

	unknown := errors.New("something else")
	assert.Same(t, unknown, NormalizeError(unknown))
	assert.Nil(t, NormalizeError(nil))
}
