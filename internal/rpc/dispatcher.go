package rpc

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"fde.dev/ipc/internal/application/ports"
)

// Filter inspects an inbound message and either handles it or passes it on.
type Filter interface {
	Handle(conn Conn, msg *dbus.Message) Result
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(conn Conn, msg *dbus.Message) Result

func (f FilterFunc) Handle(conn Conn, msg *dbus.Message) Result { return f(conn, msg) }

// Dispatcher routes method calls inside the reserved namespace to their
// handlers. Everything else is left for other filters.
type Dispatcher struct {
	namespace string
	methods   *MethodRegistry
	logger    ports.LoggingGateway
}

// NewDispatcher creates a dispatcher for the given namespace
func NewDispatcher(namespace string, methods *MethodRegistry, logger ports.LoggingGateway) *Dispatcher {
	return &Dispatcher{namespace: namespace, methods: methods, logger: logger}
}

// Handle implements Filter
func (d *Dispatcher) Handle(conn Conn, msg *dbus.Message) Result {
	if msg.Type != dbus.TypeMethodCall {
		return NotYetHandled
	}
	iface := Interface(msg)
	if !InNamespace(iface, d.namespace) {
		return NotYetHandled
	}

	member := Member(msg)
	handler, ok := d.methods.Lookup(iface, member)
	if !ok {
		d.logger.Log(ports.LogLevelDebug, "unknown method", map[string]interface{}{
			"interface": iface,
			"member":    member,
			"sender":    Sender(msg),
		})
		return ReplyError(conn, msg, ErrorUnknownMethod, "Unknown interface/method")
	}

	result := d.invoke(handler, conn, msg)
	if err := conn.Flush(); err != nil {
		d.logger.LogError(err, "flushing reply", map[string]interface{}{"member": member})
	}
	return result
}

// invoke runs a handler, turning a panic into a Failed reply so one bad
// request cannot take the reactor down.
func (d *Dispatcher) invoke(h Handler, conn Conn, msg *dbus.Message) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Log(ports.LogLevelError, "handler panicked", map[string]interface{}{
				"interface": Interface(msg),
				"member":    Member(msg),
				"panic":     fmt.Sprint(r),
			})
			result = ReplyError(conn, msg, ErrorFailed, "internal error")
		}
	}()
	return h.Handle(conn, msg)
}

// FilterChain runs filters in order until one handles the message. A method
// call nobody handles gets the bus-standard UnknownMethod reply.
type FilterChain struct {
	filters []Filter
	logger  ports.LoggingGateway
}

// NewFilterChain creates a chain over filters
func NewFilterChain(logger ports.LoggingGateway, filters ...Filter) *FilterChain {
	return &FilterChain{filters: filters, logger: logger}
}

// Handle implements Filter
func (c *FilterChain) Handle(conn Conn, msg *dbus.Message) Result {
	for _, f := range c.filters {
		if res := f.Handle(conn, msg); res != NotYetHandled {
			if res == NeedMemory {
				c.logger.Log(ports.LogLevelError, "dropping call, reply could not be built", map[string]interface{}{
					"member": Member(msg),
				})
			}
			return res
		}
	}

	if msg.Type != dbus.TypeMethodCall {
		return NotYetHandled
	}
	text := fmt.Sprintf("No such method '%s' in interface '%s' at object path '%s'", Member(msg), Interface(msg), Path(msg))
	res := ReplyError(conn, msg, ErrorUnknownMethod, text)
	if err := conn.Flush(); err != nil {
		c.logger.LogError(err, "flushing reply", nil)
	}
	return res
}
