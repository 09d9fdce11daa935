package midi

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu      sync.Mutex
	name    string
	opened  int
	closed  int
	sent    [][]byte
	openErr error
}

func (p *fakePort) String() string { return p.name }

func (p *fakePort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return p.openErr
	}
	p.opened++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

func (p *fakePort) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

func lister(ports ...*fakePort) PortLister {
	return func() ([]Port, error) {
		out := make([]Port, 0, len(ports))
		for _, p := range ports {
			out = append(out, p)
		}
		return out, nil
	}
}

func TestSender_SendHeartRateEncodesDigitsAndPaces(t *testing.T) {
	// Heart rate 72 on a fresh port: ones digit 2 as key, tens digit 7 as velocity,
	// and the call blocks for the full pacing delay.
	port := &fakePort{name: "hroscmidi"}
	s := NewSender(nil, WithPorts(lister(port)))

	start := time.Now()
	require.NoError(t, s.SendHeartRate("hroscmidi", 72))
	elapsed := time.Since(start)

	assert.Equal(t, [][]byte{{0x90, 2, 7}}, port.Sent())
	assert.GreaterOrEqual(t, elapsed, time.Second, "heart rate send MUST not return before the pacing delay")
	assert.Equal(t, 1, port.opened)
}

func TestSender_SendHeartRateDigits(t *testing.T) {
	tests := []struct {
		hr       uint8
		expected []byte
	}{
		{hr: 0, expected: []byte{0x90, 0, 0}},
		{hr: 9, expected: []byte{0x90, 9, 0}},
		{hr: 60, expected: []byte{0x90, 0, 6}},
		{hr: 199, expected: []byte{0x90, 9, 19}},
		{hr: 200, expected: []byte{0x90, 0, 20}},
	}

	for _, tt := range tests {
		port := &fakePort{name: "out"}
		s := NewSender(nil, WithPorts(lister(port)), WithPacing(0))

		require.NoError(t, s.SendHeartRate("out", tt.hr))
		assert.Equal(t, [][]byte{tt.expected}, port.Sent(), "heart rate %d", tt.hr)
	}
}

func TestSender_SendNote(t *testing.T) {
	port := &fakePort{name: "out"}
	s := NewSender(nil, WithPorts(lister(port)), WithPacing(0))

	require.NoError(t, s.SendNote("out", 60, 127))
	require.NoError(t, s.SendNote("out", 60, 0))

	assert.Equal(t, [][]byte{
		{0x90, 60, 127},
		{0x80, 60, 0},
	}, port.Sent())
	assert.Equal(t, 1, port.opened, "port MUST be cached between sends")
}

func TestSender_ReplacesPortOnlyWhenNameDiffers(t *testing.T) {
	a := &fakePort{name: "a"}
	b := &fakePort{name: "b"}
	s := NewSender(nil, WithPorts(lister(a, b)), WithPacing(0))

	require.NoError(t, s.SendNote("a", 60, 127))
	require.NoError(t, s.SendNote("a", 61, 127))
	require.NoError(t, s.SendNote("b", 60, 127))

	assert.Equal(t, 1, a.opened)
	assert.Equal(t, 1, a.closed, "previous port MUST be closed on switch")
	assert.Equal(t, 1, b.opened)
	assert.Len(t, a.Sent(), 2)
	assert.Len(t, b.Sent(), 1)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, b.closed)
	require.NoError(t, s.Close(), "close MUST be idempotent")
}

func TestSender_PortNotFound(t *testing.T) {
	s := NewSender(nil, WithPorts(lister(&fakePort{name: "other"})))

	err := s.SendHeartRate("hroscmidi", 72)
	assert.ErrorIs(t, err, ErrPortNotFound)
	assert.Contains(t, err.Error(), "hroscmidi")
}

func TestSender_OpenFailureKeepsPreviousPort(t *testing.T) {
	good := &fakePort{name: "good"}
	bad := &fakePort{name: "bad", openErr: errors.New("busy")}
	s := NewSender(nil, WithPorts(lister(good, bad)), WithPacing(0))

	require.NoError(t, s.SendNote("good", 60, 127))
	assert.Error(t, s.SendNote("bad", 60, 127))
	require.NoError(t, s.SendNote("good", 60, 0))

	assert.Equal(t, 1, good.opened)
	assert.Equal(t, 0, good.closed)
}

func TestSender_ListerError(t *testing.T) {
	s := NewSender(nil, WithPorts(func() ([]Port, error) { return nil, ErrNoDriver }))
	assert.ErrorIs(t, s.SendNote("out", 60, 127), ErrNoDriver)
}
