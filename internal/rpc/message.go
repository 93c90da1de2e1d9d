package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Result reports what a filter or handler did with a message.
type Result int

const (
	// NotYetHandled leaves the message for the next filter.
	NotYetHandled Result = iota
	// Handled means a reply was sent (or the message needs none).
	Handled
	// NeedMemory means not even an error reply could be built.
	NeedMemory
)

func (r Result) String() string {
	switch r {
	case NotYetHandled:
		return "not-yet-handled"
	case Handled:
		return "handled"
	case NeedMemory:
		return "need-memory"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Conn is the outbound side of the bus connection as seen by handlers.
type Conn interface {
	// Send queues msg for delivery. It returns an error wrapping
	// ErrMessageInvalid when msg cannot be serialised.
	Send(msg *dbus.Message) error
	// Flush pushes queued messages to the bus.
	Flush() error
}

// ErrMessageInvalid is returned by Conn.Send for messages that fail validation.
var ErrMessageInvalid = errors.New("message failed validation")

// Header accessors. Missing headers yield the zero value.

func Interface(msg *dbus.Message) string { return headerString(msg, dbus.FieldInterface) }
func Member(msg *dbus.Message) string    { return headerString(msg, dbus.FieldMember) }
func Sender(msg *dbus.Message) string    { return headerString(msg, dbus.FieldSender) }

func Path(msg *dbus.Message) dbus.ObjectPath {
	p, _ := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)
	return p
}

// BodySignature returns the declared signature of the message body.
func BodySignature(msg *dbus.Message) string {
	if sig, ok := msg.Headers[dbus.FieldSignature].Value().(dbus.Signature); ok {
		return sig.String()
	}
	return ""
}

func headerString(msg *dbus.Message, field dbus.HeaderField) string {
	s, _ := msg.Headers[field].Value().(string)
	return s
}

// InNamespace reports whether iface is ns itself or an interface below it.
func InNamespace(iface, ns string) bool {
	return iface == ns || strings.HasPrefix(iface, ns+".")
}

// DecodeArgs checks that the body of msg has exactly the wire signature want
// and stores the arguments into dest.
func DecodeArgs(msg *dbus.Message, want string, dest ...interface{}) error {
	if got := BodySignature(msg); got != want {
		return fmt.Errorf("expected arguments of type %q, got %q", want, got)
	}
	if err := dbus.Store(msg.Body, dest...); err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return nil
}

// NewMethodReturn builds the reply to call carrying values.
func NewMethodReturn(call *dbus.Message, values ...interface{}) *dbus.Message {
	reply := &dbus.Message{
		Type: dbus.TypeMethodReply,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldReplySerial: dbus.MakeVariant(call.Serial()),
		},
		Body: values,
	}
	if sender := Sender(call); sender != "" {
		reply.Headers[dbus.FieldDestination] = dbus.MakeVariant(sender)
	}
	if len(values) > 0 {
		reply.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(values...))
	}
	return reply
}

// NewError builds a typed error reply to call.
func NewError(call *dbus.Message, name, text string) *dbus.Message {
	reply := &dbus.Message{
		Type: dbus.TypeError,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldReplySerial: dbus.MakeVariant(call.Serial()),
			dbus.FieldErrorName:   dbus.MakeVariant(name),
			dbus.FieldSignature:   dbus.MakeVariant(dbus.SignatureOf(text)),
		},
		Body: []interface{}{text},
	}
	if sender := Sender(call); sender != "" {
		reply.Headers[dbus.FieldDestination] = dbus.MakeVariant(sender)
	}
	return reply
}

// NewSignal builds a broadcast signal emitted from path.
func NewSignal(path dbus.ObjectPath, iface, member string, values ...interface{}) *dbus.Message {
	sig := &dbus.Message{
		Type: dbus.TypeSignal,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:      dbus.MakeVariant(path),
			dbus.FieldInterface: dbus.MakeVariant(iface),
			dbus.FieldMember:    dbus.MakeVariant(member),
		},
		Body: values,
	}
	if len(values) > 0 {
		sig.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(values...))
	}
	return sig
}

// ErrorName returns the error name of an error reply.
func ErrorName(msg *dbus.Message) string {
	return headerString(msg, dbus.FieldErrorName)
}

// Reply sends a method return for call.
func Reply(conn Conn, call *dbus.Message, values ...interface{}) Result {
	return send(conn, call, NewMethodReturn(call, values...))
}

// ReplyError sends a typed error reply for call.
func ReplyError(conn Conn, call *dbus.Message, name, text string) Result {
	return send(conn, call, NewError(call, name, text))
}

// send writes reply. A reply that cannot be built is answered with NoMemory;
// if even that fails the caller gets NeedMemory. Transport failures are left
// to the hangup watcher.
func send(conn Conn, call, reply *dbus.Message) Result {
	err := conn.Send(reply)
	if err == nil || !errors.Is(err, ErrMessageInvalid) {
		return Handled
	}
	if conn.Send(NewError(call, ErrorNoMemory, "not enough memory to build reply")) != nil {
		return NeedMemory
	}
	return Handled
}
