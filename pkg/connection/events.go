package connection

import "time"

// EventType names an outward event
type EventType string

const (
	// EventConnected carries the connection status in Event.Connected
	EventConnected EventType = "connected"
	// EventHeartRate carries one decoded sample in Event.HeartRate
	EventHeartRate EventType = "heart_rate_update"
)

// Event is emitted to the outside world by the Manager and the notification forwarder.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	Connected bool      `json:"connected,omitempty"`
	HeartRate float64   `json:"heart_rate,omitempty"`
	Time      time.Time `json:"time"`
}

// Emitter receives outward events. Emit must not block for long:
// it is called from the notification forwarder for every sample.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// MultiEmitter fans an event out to every non-nil emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}
