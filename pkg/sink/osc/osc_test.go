package osc

import (
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a local UDP listener and returns its port and a receive function.
func listen(t *testing.T) (int, func() *osc.Message) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	receive := func() *osc.Message {
		buf := make([]byte, 1024)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)

		packet, err := osc.ParsePacket(string(buf[:n]))
		require.NoError(t, err)
		msg, ok := packet.(*osc.Message)
		require.True(t, ok, "packet MUST be a single message")
		return msg
	}

	return conn.LocalAddr().(*net.UDPAddr).Port, receive
}

func TestSender_SendFloat(t *testing.T) {
	port, receive := listen(t)
	s := NewSender(nil)

	require.NoError(t, s.SendFloat("127.0.0.1", port, "/avatar/parameters/hr_percent", 0.36))

	msg := receive()
	assert.Equal(t, "/avatar/parameters/hr_percent", msg.Address)
	require.Len(t, msg.Arguments, 1)
	assert.Equal(t, float32(0.36), msg.Arguments[0])
}

func TestSender_SendBool(t *testing.T) {
	port, receive := listen(t)
	s := NewSender(nil)

	require.NoError(t, s.SendBool("127.0.0.1", port, "/avatar/parameters/hr_connected", true))
	require.NoError(t, s.SendBool("127.0.0.1", port, "/avatar/parameters/hr_connected", false))

	first, second := receive(), receive()
	assert.Equal(t, []interface{}{true}, first.Arguments)
	assert.Equal(t, []interface{}{false}, second.Arguments)
}

func TestSender_InvalidPort(t *testing.T) {
	s := NewSender(nil)
	assert.Error(t, s.SendFloat("127.0.0.1", 0, "/x", 1))
	assert.Error(t, s.SendBool("127.0.0.1", 70000, "/x", true))
}
