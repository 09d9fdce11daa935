//go:build !test

package main

// The rtmidi driver fails to initialize without a system MIDI sequencer, so test
// builds (-tags test) leave it out and install fake ports instead.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
