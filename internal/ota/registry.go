package ota

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DeviceState is the transfer progress of one device.
type DeviceState struct {
	DeviceID string

	// NextChunk is the index of the chunk sent on the next "ok".
	NextChunk int

	// Finished is set by "success" and never cleared.
	Finished bool

	// Abandoned is set by the watchdog after the retry budget runs out.
	// A fresh "ready" clears it.
	Abandoned bool

	// Retries counts watchdog re-sends since the device last spoke.
	Retries int

	FirstSeen    time.Time
	LastActivity time.Time
}

// Settled reports whether the device needs no further attention.
func (s DeviceState) Settled() bool {
	return s.Finished || s.Abandoned
}

// Registry holds one DeviceState per device for the current run.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*DeviceState),
	}
}

// Get returns a copy of the device's state.
func (r *Registry) Get(deviceID string) (DeviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.devices[deviceID]
	if !ok {
		return DeviceState{}, false
	}
	return *s, true
}

// GetOrCreate returns the device's state, registering it at chunk 0 first if
// it is not known yet.
func (r *Registry) GetOrCreate(deviceID string) DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.devices[deviceID]; ok {
		return *s
	}

	s := &DeviceState{DeviceID: deviceID}
	r.devices[deviceID] = s
	return *s
}

// Put stores state for state.DeviceID, replacing any previous entry. A
// finished device stays finished.
func (r *Registry) Put(state DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.devices[state.DeviceID]; ok && prev.Finished {
		state.Finished = true
	}
	r.devices[state.DeviceID] = &state
}

// MarkFinished sets the device's finished flag. Both Mark methods wrap
// ErrUnknownDevice when the device has no entry.
func (r *Registry) MarkFinished(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("mark %s finished: %w", deviceID, ErrUnknownDevice)
	}
	s.Finished = true
	return nil
}

// MarkAbandoned gives up on the device until it sends "ready" again.
func (r *Registry) MarkAbandoned(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.devices[deviceID]
	if !ok {
		return fmt.Errorf("mark %s abandoned: %w", deviceID, ErrUnknownDevice)
	}
	s.Abandoned = true
	return nil
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// AllFinished reports whether at least one device is known and every known
// device has finished.
func (r *Registry) AllFinished() bool {
	return r.all(func(s *DeviceState) bool { return s.Finished })
}

// AllSettled reports whether at least one device is known and every known
// device has either finished or been abandoned.
func (r *Registry) AllSettled() bool {
	return r.all(func(s *DeviceState) bool { return s.Settled() })
}

func (r *Registry) all(pred func(*DeviceState) bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.devices) == 0 {
		return false
	}
	for _, s := range r.devices {
		if !pred(s) {
			return false
		}
	}
	return true
}

// Snapshot returns copies of all device states ordered by device ID.
func (r *Registry) Snapshot() []DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DeviceState, 0, len(r.devices))
	for _, s := range r.devices {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}
