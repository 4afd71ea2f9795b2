package transport

import (
	"sort"
	"sync"
)

// PortRegistry tracks which serial ports this process currently holds open,
// so two connections never double-open the same device. It is constructed
// once at the composition root and passed to every live connection; there
// is no package-level shared instance.
type PortRegistry struct {
	mu    sync.Mutex
	inUse map[string]bool
}

// NewPortRegistry returns an empty registry.
func NewPortRegistry() *PortRegistry {
	return &PortRegistry{inUse: make(map[string]bool)}
}

// Acquire marks a port as held. Returns ErrPortBusy if it already is.
func (r *PortRegistry) Acquire(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse[name] {
		return ErrPortBusy
	}
	r.inUse[name] = true
	return nil
}

// Release marks a port as free. Releasing an unheld port is a no-op.
func (r *PortRegistry) Release(name string) {
	r.mu.Lock()
	delete(r.inUse, name)
	r.mu.Unlock()
}

// InUse reports whether the named port is currently held.
func (r *PortRegistry) InUse(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse[name]
}

// PortStatus pairs a system serial port name with its registry state.
type PortStatus struct {
	Name  string `json:"name"`
	InUse bool   `json:"inUse"`
}

// ListPorts enumerates all system serial ports, sorted by name and tagged
// with their in-use state from the registry.
func ListPorts(r *PortRegistry, list func() ([]string, error)) ([]PortStatus, error) {
	names, err := list()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]PortStatus, 0, len(names))
	for _, n := range names {
		out = append(out, PortStatus{Name: n, InUse: r.InUse(n)})
	}
	return out, nil
}
