package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"fde.dev/ipc/internal/application/ports"
	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
)

var (
	ErrNotFound  = errors.New("plugin not found")
	ErrDuplicate = errors.New("plugin already tracked")
)

// PluginRegistry is the directory of known plugin instances keyed by name.
// It is owned by the reactor goroutine and performs no locking.
type PluginRegistry struct {
	plugins map[string]*plugindomain.Instance
	now     func() time.Time
}

// NewPluginRegistry creates an empty registry
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]*plugindomain.Instance),
		now:     time.Now,
	}
}

// Insert adds a freshly spawned, unregistered instance
func (r *PluginRegistry) Insert(inst plugindomain.Instance) error {
	if _, exists := r.plugins[inst.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, inst.Name)
	}
	stored := inst
	r.plugins[inst.Name] = &stored
	return nil
}

// Register records a registration call. An existing entry gets its address,
// pid and the declared capability flag; otherwise a new registered entry is
// created. Flags accumulate across calls. known is false when handlerType is
// not one of the recognised types, in which case no flag is set.
func (r *PluginRegistry) Register(name, handlerType string, pid int32) (inst plugindomain.Instance, created, known bool) {
	entry, exists := r.plugins[name]
	if !exists {
		entry = &plugindomain.Instance{Name: name, State: plugindomain.StateRegistered}
		r.plugins[name] = entry
	}

	entry.Address = plugindomain.AddressFor(name)
	entry.PID = pid
	if h, ok := plugindomain.ParseHandlerType(handlerType); ok {
		known = entry.Capabilities.Grant(h)
	}
	if entry.RegisteredAt.IsZero() && entry.IsLive() {
		entry.RegisteredAt = r.now()
	}
	return *entry, !exists, known
}

// SetState moves the named entry to a new registration state
func (r *PluginRegistry) SetState(name string, state plugindomain.State) error {
	entry, ok := r.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return entry.Transition(state)
}

// Get returns a copy of the named entry
func (r *PluginRegistry) Get(name string) (plugindomain.Instance, bool) {
	entry, ok := r.plugins[name]
	if !ok {
		return plugindomain.Instance{}, false
	}
	return *entry, true
}

// Remove deletes the named entry and returns what was stored
func (r *PluginRegistry) Remove(name string) (plugindomain.Instance, bool) {
	entry, ok := r.plugins[name]
	if !ok {
		return plugindomain.Instance{}, false
	}
	delete(r.plugins, name)
	return *entry, true
}

// Len returns the number of tracked instances
func (r *PluginRegistry) Len() int {
	return len(r.plugins)
}

// Snapshot returns copies of every entry ordered by name
func (r *PluginRegistry) Snapshot() []plugindomain.Instance {
	out := make([]plugindomain.Instance, 0, len(r.plugins))
	for _, entry := range r.plugins {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ ports.PluginRepository = (*PluginRegistry)(nil)
