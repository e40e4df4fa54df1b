package ota

import "sync"

// Result summarizes a completed run.
type Result struct {
	Finished  []string
	Abandoned []string
}

// OK reports whether every device finished.
func (r Result) OK() bool {
	return len(r.Abandoned) == 0 && len(r.Finished) > 0
}

// Monitor watches a registry for the end of the run. It signals completion
// by closing Done; ending the process is up to the caller.
type Monitor struct {
	mu     sync.Mutex
	done   chan struct{}
	fired  bool
	result Result
}

// NewMonitor creates a monitor that has not fired.
func NewMonitor() *Monitor {
	return &Monitor{done: make(chan struct{})}
}

// Evaluate checks the registry and fires if every known device has finished
// or been abandoned. It returns true only on the call that fires.
func (m *Monitor) Evaluate(r *Registry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fired || !r.AllSettled() {
		return false
	}

	var result Result
	for _, s := range r.Snapshot() {
		if s.Finished {
			result.Finished = append(result.Finished, s.DeviceID)
		} else {
			result.Abandoned = append(result.Abandoned, s.DeviceID)
		}
	}

	m.result = result
	m.fired = true
	close(m.done)
	return true
}

// Done is closed when the monitor fires.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Result returns the outcome recorded when the monitor fired.
func (m *Monitor) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}
