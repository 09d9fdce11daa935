package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStream_DeliverCopiesFrames(t *testing.T) {
	s := NewStream(2)
	buf := []byte{0x00, 72}

	s.Deliver(buf)
	buf[1] = 0

	assert.Equal(t, []byte{0x00, 72}, <-s.C())
}

func TestStream_CloseEndsStream(t *testing.T) {
	s := NewStream(2)
	s.Deliver([]byte{0x00, 60})
	s.Close()
	s.Close()

	assert.NotPanics(t, func() { s.Deliver([]byte{0x00, 61}) }, "delivery after close MUST be dropped")

	var got [][]byte
	for f := range s.C() {
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{{0x00, 60}}, got, "buffered frames MUST be drained before the end")
}

func TestStream_CloseReleasesBlockedDelivery(t *testing.T) {
	s := NewStream(1)
	s.Deliver([]byte{0x00, 60})

	delivered := make(chan struct{})
	go func() {
		s.Deliver([]byte{0x00, 61})
		close(delivered)
	}()

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close MUST NOT wait for a reader to drain a full stream")
	}
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("a blocked delivery MUST return once the stream is closed")
	}

	var got [][]byte
	for f := range s.C() {
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{{0x00, 60}}, got, "only the frame buffered before close MUST be received")
}
