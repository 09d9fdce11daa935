package device

import "sync"

// DefaultStreamBuffer is the notification stream capacity used by the backends.
const DefaultStreamBuffer = 64

// Stream is a notification stream fed from a transport callback.
// Deliveries after Close are dropped; Close is safe to call more than once.
type Stream struct {
	ch   chan []byte
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
}

// NewStream creates a stream with the given buffer capacity.
func NewStream(capacity int) *Stream {
	return &Stream{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// C returns the receive side handed out by Peripheral.Subscribe.
func (s *Stream) C() <-chan []byte {
	return s.ch
}

// Deliver copies data into the stream, blocking while the buffer is full.
// A blocked delivery is abandoned when the stream is closed.
func (s *Stream) Deliver(data []byte) {
	frame := append([]byte(nil), data...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.ch <- frame:
	case <-s.done:
	}
}

// Close ends the stream. Frames already buffered are still received before the end.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	// ch is closed only once no delivery can still send on it.
	s.senders.Wait()
	close(s.ch)
}
