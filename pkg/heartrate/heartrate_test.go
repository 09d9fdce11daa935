package heartrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		expected Sample
	}{
		{
			name:     "8-bit value",
			frame:    []byte{0x00, 72},
			expected: Sample{BPM: 72},
		},
		{
			name:     "8-bit value with trailing bytes",
			frame:    []byte{0x00, 180, 0xff},
			expected: Sample{BPM: 180},
		},
		{
			name:     "16-bit value",
			frame:    []byte{0x01, 0x2c, 0x01},
			expected: Sample{BPM: 300, Flags: 0x01},
		},
		{
			name:  "contact detected",
			frame: []byte{0x06, 65},
			expected: Sample{
				BPM:            65,
				Flags:          0x06,
				ContactSupport: true,
				Contact:        true,
			},
		},
		{
			name:  "energy and rr intervals",
			frame: []byte{0x18, 60, 0x10, 0x00, 0x00, 0x04, 0x00, 0x02},
			expected: Sample{
				BPM:            60,
				Flags:          0x18,
				EnergyExpended: 16,
				HasEnergy:      true,
				RRIntervals:    []uint16{1024, 512},
			},
		},
		{
			name:     "announced energy missing",
			frame:    []byte{0x08, 99},
			expected: Sample{BPM: 99, Flags: 0x08},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestDecode_ShortFrames(t *testing.T) {
	frames := [][]byte{
		nil,
		{},
		{0x00},
		{0x01, 0x2c},
	}

	for _, f := range frames {
		_, err := Decode(f)
		assert.ErrorIs(t, err, ErrShortFrame, "frame %v MUST be rejected", f)
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	for _, bpm := range []uint16{0, 72, 255, 256, 1000} {
		s, err := Decode(Encode(bpm))
		require.NoError(t, err)
		assert.Equal(t, float64(bpm), s.BPM)
	}
}
