package rpc

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"fde.dev/ipc/internal/application/ports"
)

// Arg is one typed signal argument.
type Arg struct {
	value interface{}
}

func String(s string) Arg { return Arg{value: s} }
func Int32(v int32) Arg   { return Arg{value: v} }
func Bool(b bool) Arg     { return Arg{value: b} }

// Value wraps a dynamically typed value. Only string, int32 and bool are
// sent; anything else is skipped at broadcast time.
func Value(v interface{}) Arg { return Arg{value: v} }

func (a Arg) supported() bool {
	switch a.value.(type) {
	case string, int32, bool:
		return true
	default:
		return false
	}
}

// Broadcaster emits signals from the service object path.
type Broadcaster struct {
	conn   Conn
	path   dbus.ObjectPath
	logger ports.LoggingGateway
}

// NewBroadcaster creates a broadcaster sending through conn
func NewBroadcaster(conn Conn, path dbus.ObjectPath, logger ports.LoggingGateway) *Broadcaster {
	return &Broadcaster{conn: conn, path: path, logger: logger}
}

// Broadcast sends iface.name with args to every listener and flushes.
func (b *Broadcaster) Broadcast(iface, name string, args ...Arg) error {
	values := make([]interface{}, 0, len(args))
	for i, a := range args {
		if !a.supported() {
			b.logger.Log(ports.LogLevelWarn, "skipping unsupported signal argument", map[string]interface{}{
				"signal":   iface + "." + name,
				"position": i,
				"type":     fmt.Sprintf("%T", a.value),
			})
			continue
		}
		values = append(values, a.value)
	}

	if err := b.conn.Send(NewSignal(b.path, iface, name, values...)); err != nil {
		return fmt.Errorf("sending signal %s.%s: %w", iface, name, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("flushing signal %s.%s: %w", iface, name, err)
	}
	return nil
}
