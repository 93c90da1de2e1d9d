package ports

import (
	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
)

// PluginRepository defines the directory of plugin instances shared by the
// supervisor and the bus handlers. Implementations are owned by one
// goroutine and need not be safe for concurrent use.
type PluginRepository interface {
	// Insert adds a freshly spawned instance; it fails if the name is taken
	Insert(inst plugindomain.Instance) error

	// Register records a RegisterPlugin call. created reports a new entry,
	// known reports that the handler type mapped to a capability.
	Register(name, handlerType string, pid int32) (inst plugindomain.Instance, created, known bool)

	// SetState moves an instance through its lifecycle
	SetState(name string, state plugindomain.State) error

	// Get returns a copy of the named instance
	Get(name string) (plugindomain.Instance, bool)

	// Remove drops the named instance and returns what was stored
	Remove(name string) (plugindomain.Instance, bool)

	// Len returns the number of tracked instances
	Len() int

	// Snapshot returns copies of all instances ordered by name
	Snapshot() []plugindomain.Instance
}
