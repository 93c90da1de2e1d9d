package rpc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
)

// Handler answers one method call. It validates its own arguments and sends
// exactly one reply through conn.
type Handler interface {
	Handle(conn Conn, msg *dbus.Message) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn Conn, msg *dbus.Message) Result

func (f HandlerFunc) Handle(conn Conn, msg *dbus.Message) Result { return f(conn, msg) }

// MethodKey identifies a bound method.
type MethodKey struct {
	Interface string
	Method    string
}

func (k MethodKey) String() string { return k.Interface + "." + k.Method }

// MethodEntry binds a handler to an interface member.
type MethodEntry struct {
	Interface string
	Method    string
	Handler   Handler
}

var ErrDuplicateMethod = errors.New("duplicate method binding")

// MethodRegistry is the immutable routing table used by the dispatcher.
type MethodRegistry struct {
	handlers map[MethodKey]Handler
}

// NewMethodRegistry merges the given sub-tables. A key bound twice, or an
// entry without a handler, is a construction error.
func NewMethodRegistry(tables ...[]MethodEntry) (*MethodRegistry, error) {
	r := &MethodRegistry{handlers: make(map[MethodKey]Handler)}
	for _, table := range tables {
		for _, entry := range table {
			key := MethodKey{Interface: entry.Interface, Method: entry.Method}
			if entry.Interface == "" || entry.Method == "" {
				return nil, fmt.Errorf("method entry %q has an empty interface or member", key)
			}
			if entry.Handler == nil {
				return nil, fmt.Errorf("method %s has no handler", key)
			}
			if _, dup := r.handlers[key]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateMethod, key)
			}
			r.handlers[key] = entry.Handler
		}
	}
	return r, nil
}

// Lookup finds the handler bound to iface.method.
func (r *MethodRegistry) Lookup(iface, method string) (Handler, bool) {
	h, ok := r.handlers[MethodKey{Interface: iface, Method: method}]
	return h, ok
}

// Keys returns every bound key, sorted.
func (r *MethodRegistry) Keys() []MethodKey {
	keys := make([]MethodKey, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Interface != keys[j].Interface {
			return keys[i].Interface < keys[j].Interface
		}
		return keys[i].Method < keys[j].Method
	})
	return keys
}

func (r *MethodRegistry) Len() int { return len(r.handlers) }
