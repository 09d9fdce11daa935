// Package osc sends OSC messages over UDP.
package osc

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"
	"github.com/sirupsen/logrus"
)

// Sender sends single-argument OSC messages, one datagram per call.
type Sender struct {
	logger *logrus.Logger
}

// NewSender creates an OSC sender.
func NewSender(logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sender{logger: logger}
}

// SendFloat sends address with a single float32 argument to host:port.
func (s *Sender) SendFloat(host string, port int, address string, value float32) error {
	return s.send(host, port, osc.NewMessage(address, value))
}

// SendBool sends address with a single boolean argument to host:port.
func (s *Sender) SendBool(host string, port int, address string, value bool) error {
	return s.send(host, port, osc.NewMessage(address, value))
}

func (s *Sender) send(host string, port int, msg *osc.Message) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid OSC port %d", port)
	}

	if err := osc.NewClient(host, port).Send(msg); err != nil {
		return fmt.Errorf("failed to send OSC message %s to %s:%d: %w", msg.Address, host, port, err)
	}

	s.logger.WithFields(logrus.Fields{
		"address": msg.Address,
		"args":    msg.Arguments,
		"target":  fmt.Sprintf("%s:%d", host, port),
	}).Trace("OSC message sent")
	return nil
}
