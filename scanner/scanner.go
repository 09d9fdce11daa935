package scanner

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrbridge/internal/device"
	"github.com/srg/hrbridge/internal/devicefactory"
	"github.com/srg/hrbridge/internal/ringchan"
	"github.com/srg/hrbridge/pkg/connection"
)

// DefaultDwell is the discovery window used when ScanOptions.Duration is not set.
const DefaultDwell = 2 * time.Second

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type DeviceEventType
	ID   string
	Name string
}

// Result is one usable peripheral found by a scan.
type Result struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	// Duration is the discovery dwell time
	Duration time.Duration
	// Backend selects the transport backend, see devicefactory.Backends
	Backend   string
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: DefaultDwell,
		Backend:  devicefactory.BackendGoBLE,
	}
}

type entry struct {
	seq        uint64
	peripheral device.Peripheral
}

// Scanner discovers peripherals and publishes the named ones to a Registry.
// Concurrent Scan calls are independent; the last one to finish wins the registry.
type Scanner struct {
	registry *connection.Registry
	events   *ringchan.RingChannel[DeviceEvent]
	logger   *logrus.Logger
}

// scan holds the accumulation state of a single Scan call
type scan struct {
	devices *hashmap.Map[string, *entry]
	seq     atomic.Uint64
	opts    *ScanOptions
}

// NewScanner creates a scanner that stores its results in registry.
func NewScanner(registry *connection.Registry, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		registry: registry,
		events:   ringchan.New[DeviceEvent](100),
		logger:   logger,
	}
}

// Scan opens the adapter, runs discovery for the dwell time and replaces the
// registry's known devices with every discovered peripheral that advertised a name.
//
// Fails with AdapterUnavailable when no adapter can be opened and TransportError
// when discovery fails; in both cases the registry is left untouched.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Result, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDwell
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	sc := &scan{devices: hashmap.New[string, *entry](), opts: opts}

	progressCallback("Opening adapter")
	adapter, err := devicefactory.Open(opts.Backend, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"backend":  opts.Backend,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	err = adapter.Scan(scanCtx, func(p device.Peripheral) {
		s.handlePeripheral(sc, p)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, device.Wrap(device.TransportError, "", device.NormalizeError(err))
	}

	progressCallback("Processing results")

	entries := make([]*entry, 0, sc.devices.Len())
	sc.devices.Range(func(_ string, e *entry) bool {
		entries = append(entries, e)
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	peripherals := make([]device.Peripheral, 0, len(entries))
	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		name := e.peripheral.Name()
		if name == "" {
			continue
		}
		peripherals = append(peripherals, e.peripheral)
		results = append(results, Result{ID: e.peripheral.ID(), Name: name})
	}

	s.registry.ReplaceDevices(peripherals)

	s.logger.WithFields(logrus.Fields{
		"discovered": len(entries),
		"named":      len(results),
	}).Info("BLE scan completed")

	return results, nil
}

// handlePeripheral records a newly seen device or reports an update of a known one.
// Backends hand out the same Peripheral per identifier within a scan.
func (s *Scanner) handlePeripheral(sc *scan, p device.Peripheral) {
	id := p.ID()

	_, existing := sc.devices.Get(id)
	if !existing {
		if !shouldIncludeDevice(id, sc.opts) {
			return
		}
		_, existing = sc.devices.GetOrInsert(id, &entry{seq: sc.seq.Add(1), peripheral: p})
	}

	event := DeviceEvent{ID: id, Name: p.Name()}
	if existing {
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device": id,
			"name":   p.Name(),
		}).Debug("Discovered new device")
		event.Type = EventNew
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies allow/block filters
func shouldIncludeDevice(id string, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}

	for _, blocked := range opts.BlockList {
		if id == blocked {
			return false
		}
	}

	if len(opts.AllowList) == 0 {
		return true
	}
	for _, a := range opts.AllowList {
		if id == a {
			return true
		}
	}
	return false
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
