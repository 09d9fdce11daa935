// Package sink selects the downstream protocol adapters fed with heart-rate samples.
package sink

import (
	"fmt"
	"strings"
)

// Mode selects which sinks receive samples.
type Mode string

const (
	ModeOSC  Mode = "osc"
	ModeMIDI Mode = "midi"
	ModeBoth Mode = "both"
)

// legacyModes maps input-source values written by older configuration files.
// Those versions always fed every sink.
var legacyModes = map[string]Mode{
	"bluetooth": ModeBoth,
}

// Modes lists the accepted mode names.
var Modes = []Mode{ModeOSC, ModeMIDI, ModeBoth}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, m := range Modes {
		if v == string(m) {
			return m, nil
		}
	}
	if m, ok := legacyModes[v]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown sink mode %q (supported: osc, midi, both)", s)
}

// OSC reports whether OSC output is selected.
func (m Mode) OSC() bool { return m == ModeOSC || m == ModeBoth }

// MIDI reports whether MIDI output is selected.
func (m Mode) MIDI() bool { return m == ModeMIDI || m == ModeBoth }

func (m Mode) String() string { return string(m) }
