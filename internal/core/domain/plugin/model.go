package plugindomain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AddressPrefix is the object path prefix under which registered plugins are addressed.
const AddressPrefix = "/org/fde/plugin/"

// HandlerType is the capability category a plugin declares when it registers.
type HandlerType string

const (
	HandlerInput     HandlerType = "input"
	HandlerRendering HandlerType = "rendering"
	HandlerProtocols HandlerType = "protocols"
)

// ParseHandlerType reports whether s names one of the known handler types.
func ParseHandlerType(s string) (HandlerType, bool) {
	switch h := HandlerType(s); h {
	case HandlerInput, HandlerRendering, HandlerProtocols:
		return h, true
	default:
		return "", false
	}
}

// Capabilities holds the independent capability flags of a plugin instance.
type Capabilities struct {
	Input     bool `json:"input"`
	Rendering bool `json:"rendering"`
	Protocols bool `json:"protocols"`
}

// Any reports whether at least one flag is set.
func (c Capabilities) Any() bool {
	return c.Input || c.Rendering || c.Protocols
}

// Grant sets the flag matching h. Flags are only ever added, never cleared.
func (c *Capabilities) Grant(h HandlerType) bool {
	switch h {
	case HandlerInput:
		c.Input = true
	case HandlerRendering:
		c.Rendering = true
	case HandlerProtocols:
		c.Protocols = true
	default:
		return false
	}
	return true
}

// String renders the set flags as a comma separated list.
func (c Capabilities) String() string {
	var parts []string
	if c.Input {
		parts = append(parts, string(HandlerInput))
	}
	if c.Rendering {
		parts = append(parts, string(HandlerRendering))
	}
	if c.Protocols {
		parts = append(parts, string(HandlerProtocols))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// State is the registration state of a plugin instance.
type State int

const (
	StateSpawned State = iota
	StateAwaitingRegistration
	StateRegistered
	StateTimedOut
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateAwaitingRegistration:
		return "awaiting-registration"
	case StateRegistered:
		return "registered"
	case StateTimedOut:
		return "timed-out"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid registration state transition")

var transitions = map[State][]State{
	StateSpawned:              {StateAwaitingRegistration, StateRegistered, StateKilled},
	StateAwaitingRegistration: {StateRegistered, StateTimedOut, StateKilled},
	StateRegistered:           {StateKilled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Instance is one tracked plugin process.
type Instance struct {
	Name         string       `json:"name"`
	PID          int32        `json:"pid"`
	Address      string       `json:"address,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	State        State        `json:"state"`

	// Path is the executable the supervisor launched; empty for plugins that
	// registered without being spawned by us.
	Path         string    `json:"path,omitempty"`
	SpawnedAt    time.Time `json:"spawned_at,omitempty"`
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// NewSpawned returns an unregistered instance for a freshly launched child.
func NewSpawned(name, path string, pid int32, now time.Time) Instance {
	return Instance{
		Name:      name,
		PID:       pid,
		Path:      path,
		State:     StateSpawned,
		SpawnedAt: now,
	}
}

// IsLive reports whether the plugin has completed the registration handshake:
// an address is assigned and at least one capability flag is set.
func (i Instance) IsLive() bool {
	return i.Address != "" && i.Capabilities.Any()
}

// Transition moves the instance to state to, refusing illegal moves.
func (i *Instance) Transition(to State) error {
	if i.State == to {
		return nil
	}
	if !CanTransition(i.State, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, i.State, to, i.Name)
	}
	i.State = to
	return nil
}

// AddressFor derives the IPC address of a plugin from its name. Bytes outside
// [A-Za-z0-9] are escaped as _xx so the result is always a valid object path.
func AddressFor(name string) string {
	var b strings.Builder
	b.Grow(len(AddressPrefix) + len(name))
	b.WriteString(AddressPrefix)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}
