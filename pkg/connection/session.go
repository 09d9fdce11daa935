package connection

import (
	"time"

	"github.com/google/uuid"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/groutine"
)

// Session is one active connection: a connected, subscribed peripheral and the
// forwarder consuming its notification stream.
type Session struct {
	ID             string
	Peripheral     device.Peripheral
	Characteristic device.Characteristic
	Since          time.Time

	stream <-chan []byte
	task   *groutine.Task
}

func newSession(p device.Peripheral, char device.Characteristic, stream <-chan []byte) *Session {
	return &Session{
		ID:             uuid.NewString(),
		Peripheral:     p,
		Characteristic: char,
		Since:          time.Now(),
		stream:         stream,
	}
}

// DeviceID returns the identifier of the session's peripheral.
func (s *Session) DeviceID() string {
	return s.Peripheral.ID()
}

// Done is closed once the session's forwarder has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.task.Done()
}
