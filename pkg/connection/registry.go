package connection

import (
	"sync"

	"github.com/srg/hrbridge/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds the last scan result and the active session.
//
// The two slots are locked independently. Locks are held only for the
// read or write itself, never across transport I/O.
type Registry struct {
	devicesMu sync.RWMutex
	devices   *orderedmap.OrderedMap[string, device.Peripheral]

	activeMu sync.Mutex
	active   *Session
	pending  map[string]chan struct{} // connects in progress, by device id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: orderedmap.New[string, device.Peripheral](),
		pending: make(map[string]chan struct{}),
	}
}

// ReplaceDevices discards the previous scan result and stores peripherals in order.
// The active session is not affected.
func (r *Registry) ReplaceDevices(peripherals []device.Peripheral) {
	devices := orderedmap.New[string, device.Peripheral]()
	for _, p := range peripherals {
		devices.Set(p.ID(), p)
	}

	r.devicesMu.Lock()
	r.devices = devices
	r.devicesMu.Unlock()
}

// Devices returns the known peripherals in scan order.
func (r *Registry) Devices() []device.Peripheral {
	r.devicesMu.RLock()
	defer r.devicesMu.RUnlock()

	out := make([]device.Peripheral, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Lookup finds a known peripheral by identifier.
func (r *Registry) Lookup(id string) (device.Peripheral, bool) {
	r.devicesMu.RLock()
	defer r.devicesMu.RUnlock()
	return r.devices.Get(id)
}

// Active returns the active session, or nil.
func (r *Registry) Active() *Session {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	return r.active
}

// publish installs s as the active session unless one is already present.
func (r *Registry) publish(s *Session) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	if r.active != nil {
		return false
	}
	r.active = s
	return true
}

// Release clears the active slot if it still holds s.
// Returns true if this call cleared it.
func (r *Registry) Release(s *Session) bool {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	if s == nil || r.active != s {
		return false
	}
	r.active = nil
	return true
}

// claim reserves id for one connect attempt. When another attempt already holds
// it, release is nil and busy closes once that attempt has finished.
func (r *Registry) claim(id string) (release func(), busy <-chan struct{}) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	if ch, ok := r.pending[id]; ok {
		return nil, ch
	}
	ch := make(chan struct{})
	r.pending[id] = ch
	return func() {
		r.activeMu.Lock()
		delete(r.pending, id)
		r.activeMu.Unlock()
		close(ch)
	}, nil
}
