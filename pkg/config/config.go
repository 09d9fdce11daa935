package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/devicefactory"
	"github.com/srg/hrbridge/pkg/connection"
	"github.com/srg/hrbridge/pkg/sink"
)

// Config holds application configuration.
// The JSON keys are those of the desktop app's config.json, so existing files load unchanged.
type Config struct {
	Mode               string  `json:"mode" yaml:"mode" default:"osc"`
	MaxHR              float64 `json:"max_hr" yaml:"max_hr" default:"200"`
	OSCIP              string  `json:"osc_ip" yaml:"osc_ip" default:"127.0.0.1"`
	OSCPort            int     `json:"osc_port" yaml:"osc_port" default:"9000"`
	HRPercentAddress   string  `json:"hr_percent_address" yaml:"hr_percent_address" default:"/avatar/parameters/hr_percent"`
	HRConnectedAddress string  `json:"hr_connected_address" yaml:"hr_connected_address" default:"/avatar/parameters/hr_connected"`
	MIDIPort           string  `json:"midi_port" yaml:"midi_port" default:"hroscmidi"`
	// Timeout is the number of seconds without samples after which the sensor is reported disconnected
	Timeout           int    `json:"timeout" yaml:"timeout" default:"10"`
	BluetoothDeviceID string `json:"bluetooth_device_id" yaml:"bluetooth_device_id"`

	Backend        string  `json:"backend" yaml:"backend" default:"go-ble"`
	ConnectTimeout int     `json:"connect_timeout" yaml:"connect_timeout" default:"15"`
	ConnectPolicy  string  `json:"connect_policy" yaml:"connect_policy" default:"reject"`
	ScanSeconds    float64 `json:"scan_seconds" yaml:"scan_seconds" default:"2"`
	LogLevel       string  `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Validate checks that the configuration can drive the bridge.
func (c *Config) Validate() error {
	if _, err := sink.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.MaxHR <= 0 {
		return fmt.Errorf("max_hr must be positive, got %v", c.MaxHR)
	}
	if c.OSCPort < 1 || c.OSCPort > 65535 {
		return fmt.Errorf("osc_port must be within 1..65535, got %d", c.OSCPort)
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 || c.ScanSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if !devicefactory.IsSupported(c.Backend) {
		return fmt.Errorf("unknown backend %q (supported: %s)", c.Backend, strings.Join(devicefactory.Backends, ", "))
	}
	if _, err := parsePolicy(c.ConnectPolicy); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
	}
	return nil
}

// SinkMode returns the parsed mode, falling back to OSC for invalid values.
func (c *Config) SinkMode() sink.Mode {
	m, err := sink.ParseMode(c.Mode)
	if err != nil {
		return sink.ModeOSC
	}
	return m
}

// DataTimeout is the silence window after which the relay reports disconnected.
func (c *Config) DataTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// StepTimeout bounds each connect sub-step.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ScanDuration is the discovery dwell time.
func (c *Config) ScanDuration() time.Duration {
	return time.Duration(c.ScanSeconds * float64(time.Second))
}

// Policy returns the connect policy, RejectWhenActive for unknown values.
func (c *Config) Policy() connection.Policy {
	p, err := parsePolicy(c.ConnectPolicy)
	if err != nil {
		return connection.RejectWhenActive
	}
	return p
}

func parsePolicy(s string) (connection.Policy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return connection.RejectWhenActive, nil
	case "replace":
		return connection.ReplaceActive, nil
	default:
		return connection.RejectWhenActive, fmt.Errorf("unknown connect_policy %q (supported: reject, replace)", s)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

var setters = map[string]func(c *Config, v string) error{
	"mode":                 func(c *Config, v string) error { c.Mode = v; return nil },
	"max_hr":               func(c *Config, v string) error { return parseFloat(v, &c.MaxHR) },
	"osc_ip":               func(c *Config, v string) error { c.OSCIP = v; return nil },
	"osc_port":             func(c *Config, v string) error { return parseInt(v, &c.OSCPort) },
	"hr_percent_address":   func(c *Config, v string) error { c.HRPercentAddress = v; return nil },
	"hr_connected_address": func(c *Config, v string) error { c.HRConnectedAddress = v; return nil },
	"midi_port":            func(c *Config, v string) error { c.MIDIPort = v; return nil },
	"timeout":              func(c *Config, v string) error { return parseInt(v, &c.Timeout) },
	"bluetooth_device_id":  func(c *Config, v string) error { c.BluetoothDeviceID = v; return nil },
	"backend":              func(c *Config, v string) error { c.Backend = v; return nil },
	"connect_timeout":      func(c *Config, v string) error { return parseInt(v, &c.ConnectTimeout) },
	"connect_policy":       func(c *Config, v string) error { c.ConnectPolicy = v; return nil },
	"scan_seconds":         func(c *Config, v string) error { return parseFloat(v, &c.ScanSeconds) },
	"log_level":            func(c *Config, v string) error { c.LogLevel = v; return nil },
}

// Keys returns the settable configuration keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the field named by its JSON key and validates the result.
// The configuration is left unchanged on error.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}

	updated := *c
	if err := set(&updated, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*c = updated
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}
