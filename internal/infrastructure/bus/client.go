package bus

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"fde.dev/ipc/internal/rpc"
)

// Client talks to a running control plane. Plugins use it to register; the
// CLI uses it for inspection.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	own  bool
}

// Dial connects to the bus at address, or to the session bus when empty.
func Dial(address string) (*Client, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if address != "" {
		conn, err = dbus.Connect(address)
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}
	c := NewClient(conn)
	c.own = true
	return c, nil
}

// NewClient wraps an existing connection. Close leaves it open.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn, obj: conn.Object(rpc.ServiceName, rpc.ObjectPath)}
}

// Close closes the connection if the client opened it.
func (c *Client) Close() error {
	if c.own {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(ctx context.Context, iface, member string, ret []interface{}, args ...interface{}) error {
	call := c.obj.CallWithContext(ctx, iface+"."+member, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("%s.%s: %w", iface, member, call.Err)
	}
	if len(ret) == 0 {
		return nil
	}
	return call.Store(ret...)
}

// RegisterPlugin announces a plugin and its capability.
func (c *Client) RegisterPlugin(ctx context.Context, name, handlerType string, pid int32) (bool, error) {
	var ok bool
	err := c.call(ctx, rpc.InterfacePlugins, rpc.MethodRegisterPlugin, []interface{}{&ok}, name, handlerType, pid)
	return ok, err
}

// GetProperty reads a whitelisted property.
func (c *Client) GetProperty(ctx context.Context, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := c.call(ctx, rpc.InterfaceCore, rpc.MethodGetProperty, []interface{}{&v}, name)
	return v, err
}

// PluginCount returns the plugins_num property.
func (c *Client) PluginCount(ctx context.Context) (int32, error) {
	v, err := c.GetProperty(ctx, rpc.PropertyPluginsNum)
	if err != nil {
		return 0, err
	}
	n, ok := v.Value().(int32)
	if !ok {
		return 0, fmt.Errorf("%s has type %s, want int32", rpc.PropertyPluginsNum, v.Signature())
	}
	return n, nil
}

// SetProperty writes a property. A refused write (read-only, unknown, wrong
// type) reports false together with the service's error.
func (c *Client) SetProperty(ctx context.Context, name string, value interface{}) (bool, error) {
	var ok bool
	err := c.call(ctx, rpc.InterfaceCore, rpc.MethodSetProperty, []interface{}{&ok}, name, dbus.MakeVariant(value))
	return ok, err
}

// Introspect returns the service's introspection document.
func (c *Client) Introspect(ctx context.Context) (string, error) {
	var doc string
	err := c.call(ctx, rpc.InterfaceCore, rpc.MethodIntrospect, []interface{}{&doc})
	return doc, err
}

// IntrospectNode parses the introspection document.
func (c *Client) IntrospectNode(ctx context.Context) (*introspect.Node, error) {
	doc, err := c.Introspect(ctx)
	if err != nil {
		return nil, err
	}
	var node introspect.Node
	if err := xml.Unmarshal([]byte(doc), &node); err != nil {
		return nil, fmt.Errorf("parsing introspection data: %w", err)
	}
	return &node, nil
}

// GetConfigValue reads a runtime setting.
func (c *Client) GetConfigValue(ctx context.Context, key string) (dbus.Variant, error) {
	var v dbus.Variant
	err := c.call(ctx, rpc.InterfaceConfig, rpc.MethodGetConfigValue, []interface{}{&v}, key)
	return v, err
}

// SetConfigValue changes a runtime setting.
func (c *Client) SetConfigValue(ctx context.Context, key string, value interface{}) (bool, error) {
	var ok bool
	err := c.call(ctx, rpc.InterfaceConfig, rpc.MethodSetConfigValue, []interface{}{&ok}, key, dbus.MakeVariant(value))
	return ok, err
}

// ReloadConfig asks the service to re-read its configuration file.
func (c *Client) ReloadConfig(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, rpc.InterfaceConfig, rpc.MethodReloadConfig, []interface{}{&ok})
	return ok, err
}

// RegisteredEvent is one PluginRegistered signal.
type RegisteredEvent struct {
	Name        string
	HandlerType string
	PID         int32
	Sender      string
}

// SubscribeRegistered streams PluginRegistered signals until ctx ends.
func (c *Client) SubscribeRegistered(ctx context.Context) (<-chan RegisteredEvent, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(rpc.ObjectPath),
		dbus.WithMatchInterface(rpc.InterfaceCore),
		dbus.WithMatchMember(rpc.SignalPluginRegistered),
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", rpc.SignalPluginRegistered, err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	out := make(chan RegisteredEvent)
	want := rpc.InterfaceCore + "." + rpc.SignalPluginRegistered

	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Name != want {
					continue
				}
				var ev RegisteredEvent
				if err := dbus.Store(sig.Body, &ev.Name, &ev.HandlerType, &ev.PID); err != nil {
					continue
				}
				ev.Sender = sig.Sender
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ErrorName extracts the bus error name from an error returned by the client.
func ErrorName(err error) string {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name
	}
	return ""
}
