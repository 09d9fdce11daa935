// Package heartrate decodes Heart Rate Measurement (0x2A37) notification frames.
package heartrate

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flag bits of the first byte of a Heart Rate Measurement frame
const (
	FlagValueUint16    byte = 1 << 0
	FlagContactStatus  byte = 1 << 1
	FlagContactSupport byte = 1 << 2
	FlagEnergyExpended byte = 1 << 3
	FlagRRInterval     byte = 1 << 4
)

// ErrShortFrame is returned when a frame is too short for the format its flags announce.
var ErrShortFrame = errors.New("heart rate frame too short")

// Sample is a single decoded heart-rate measurement.
type Sample struct {
	BPM float64 `json:"bpm"`

	Flags          byte `json:"flags"`
	ContactSupport bool `json:"contact_support"`
	Contact        bool `json:"contact"`
	// EnergyExpended is in kilojoules, valid only when HasEnergy is set.
	EnergyExpended uint16 `json:"energy_expended,omitempty"`
	HasEnergy      bool   `json:"has_energy"`
	// RRIntervals are in 1/1024 second units.
	RRIntervals []uint16 `json:"rr_intervals,omitempty"`
}

// Decode parses a Heart Rate Measurement frame.
//
// Byte 0 carries the flags. When FlagValueUint16 is clear the heart rate is byte 1,
// otherwise it is the little-endian uint16 in bytes 1-2. Optional fields that are
// announced but truncated are ignored; only the heart-rate value itself is required.
func Decode(frame []byte) (Sample, error) {
	if len(frame) < 2 {
		return Sample{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}

	flags := frame[0]
	s := Sample{
		Flags:          flags,
		ContactSupport: flags&FlagContactSupport != 0,
		Contact:        flags&FlagContactStatus != 0,
	}

	pos := 1
	if flags&FlagValueUint16 != 0 {
		if len(frame) < 3 {
			return Sample{}, fmt.Errorf("%w: 16-bit value needs 3 bytes, got %d", ErrShortFrame, len(frame))
		}
		s.BPM = float64(binary.LittleEndian.Uint16(frame[1:3]))
		pos = 3
	} else {
		s.BPM = float64(frame[1])
		pos = 2
	}

	if flags&FlagEnergyExpended != 0 && len(frame) >= pos+2 {
		s.EnergyExpended = binary.LittleEndian.Uint16(frame[pos : pos+2])
		s.HasEnergy = true
		pos += 2
	}

	if flags&FlagRRInterval != 0 {
		for ; len(frame) >= pos+2; pos += 2 {
			s.RRIntervals = append(s.RRIntervals, binary.LittleEndian.Uint16(frame[pos:pos+2]))
		}
	}

	return s, nil
}

// Encode builds a frame for bpm, using the 16-bit format only when the value needs it.
// Used by fake transports and the send command.
func Encode(bpm uint16) []byte {
	if bpm <= 0xff {
		return []byte{0x00, byte(bpm)}
	}
	b := []byte{FlagValueUint16, 0, 0}
	binary.LittleEndian.PutUint16(b[1:], bpm)
	return b
}
