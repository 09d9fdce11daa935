package connection

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/pkg/heartrate"
)

// forward consumes the session's notification stream until the transport closes it.
// Every decodable frame yields exactly one heart_rate_update event, in arrival order.
// On exit the session is released and a connected=false event is emitted.
func (m *Manager) forward(ctx context.Context, s *Session) {
	log := m.logger.WithFields(logrus.Fields{
		"device":  s.DeviceID(),
		"session": s.ID,
	})
	log.Debug("Notification forwarder started")

	var received, skipped int
	defer func() {
		released := m.registry.Release(s)
		m.emit(Event{Type: EventConnected, DeviceID: s.DeviceID(), SessionID: s.ID, Connected: false})
		log.WithFields(logrus.Fields{
			"received": received,
			"skipped":  skipped,
			"released": released,
		}).Info("Notification stream ended")
	}()

	for frame := range s.stream {
		received++
		sample, err := heartrate.Decode(frame)
		if err != nil {
			skipped++
			log.WithError(err).WithField("frame", frame).Warn("Skipping malformed heart rate frame")
			continue
		}

		log.WithField("bpm", sample.BPM).Trace("Heart rate sample")
		m.emit(Event{
			Type:      EventHeartRate,
			DeviceID:  s.DeviceID(),
			SessionID: s.ID,
			HeartRate: sample.BPM,
		})
	}
}
