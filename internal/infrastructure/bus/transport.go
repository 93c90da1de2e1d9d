// Package bus attaches the control plane to the session bus through godbus.
// Inbound method calls are captured raw and handed to the reactor; replies
// and signals are written back by the rpc handlers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"fde.dev/ipc/internal/application/ports"
	"fde.dev/ipc/internal/rpc"
)

var (
	ErrNameNotAcquired = errors.New("bus name not acquired")
	ErrDisconnected    = errors.New("bus connection lost")
)

// Options selects the bus and the identity of the service.
type Options struct {
	// Address of the bus; empty means the session bus.
	Address   string
	Name      string
	Namespace string
}

// DefaultOptions returns the compositor service identity on the session bus.
func DefaultOptions() Options {
	return Options{Name: rpc.ServiceName, Namespace: rpc.Namespace}
}

// Transport owns the service's bus connection.
type Transport struct {
	conn   *dbus.Conn
	name   string
	logger ports.LoggingGateway

	mu      sync.Mutex
	deliver func(*dbus.Message)
	backlog []*dbus.Message
}

// Connect opens the bus, claims the well-known name with replace-existing,
// do-not-queue semantics and subscribes to method calls on the Core
// interface. Failure to become primary owner is fatal.
func Connect(ctx context.Context, opts Options, logger ports.LoggingGateway) (*Transport, error) {
	t := &Transport{name: opts.Name, logger: logger}

	var (
		conn *dbus.Conn
		err  error
	)
	connOpts := []dbus.ConnOption{
		dbus.WithHandler(&inbound{t: t}),
		dbus.WithIncomingInterceptor(t.intercept),
	}
	if opts.Address != "" {
		conn, err = dbus.Connect(opts.Address, connOpts...)
	} else {
		conn, err = dbus.ConnectSessionBus(connOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}
	t.conn = conn

	reply, err := conn.RequestName(opts.Name, dbus.NameFlagReplaceExisting|dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("requesting name %s: %w", opts.Name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%w: %s (reply %d)", ErrNameNotAcquired, opts.Name, reply)
	}

	rule := fmt.Sprintf("type='method_call',interface='%s.Core'", opts.Namespace)
	if call := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		logger.LogError(call.Err, "adding match rule", map[string]interface{}{"rule": rule})
	}

	logger.Log(ports.LogLevelInfo, "acquired bus name", map[string]interface{}{"name": opts.Name})
	return t, nil
}

// Serve starts delivering inbound method calls to deliver. Calls that arrived
// before Serve are delivered first, in arrival order. deliver must not block.
func (t *Transport) Serve(deliver func(*dbus.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range t.backlog {
		deliver(msg)
	}
	t.backlog = nil
	t.deliver = deliver
}

// intercept runs on godbus' reader goroutine, once per inbound message in
// wire order. Method calls are copied for the reactor; the original is
// marked no-reply so the handler goroutine godbus starts for it stays silent.
func (t *Transport) intercept(msg *dbus.Message) {
	if msg.Type != dbus.TypeMethodCall {
		return
	}
	call := *msg
	msg.Flags |= dbus.FlagNoReplyExpected
	t.receive(&call)
}

func (t *Transport) receive(msg *dbus.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.deliver == nil {
		t.backlog = append(t.backlog, msg)
		return
	}
	t.deliver(msg)
}

// Send validates msg and writes it to the bus.
func (t *Transport) Send(msg *dbus.Message) error {
	if err := msg.IsValid(); err != nil {
		return fmt.Errorf("%w: %v", rpc.ErrMessageInvalid, err)
	}
	if t.conn.Context().Err() != nil {
		return ErrDisconnected
	}
	if call := t.conn.Send(msg, nil); call.Err != nil {
		return fmt.Errorf("sending message: %w", call.Err)
	}
	return nil
}

// Flush reports whether queued messages can still reach the bus. godbus
// writes each message synchronously in Send.
func (t *Transport) Flush() error {
	if t.conn.Context().Err() != nil {
		return ErrDisconnected
	}
	return nil
}

// Done is closed when the connection hangs up or fails.
func (t *Transport) Done() <-chan struct{} {
	return t.conn.Context().Done()
}

// Close releases the name and the connection.
func (t *Transport) Close() error {
	if t.conn.Context().Err() == nil {
		if _, err := t.conn.ReleaseName(t.name); err != nil {
			t.logger.LogError(err, "releasing bus name", map[string]interface{}{"name": t.name})
		}
	}
	return t.conn.Close()
}

var _ rpc.Conn = (*Transport)(nil)
