package rpc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// recordingConn captures everything handlers send.
type recordingConn struct {
	sent    []*dbus.Message
	flushes int
	// reject marks messages as unserialisable.
	reject func(*dbus.Message) bool
}

func (c *recordingConn) Send(msg *dbus.Message) error {
	if c.reject != nil && c.reject(msg) {
		return fmt.Errorf("%w: rejected by test", ErrMessageInvalid)
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConn) Flush() error {
	c.flushes++
	return nil
}

func (c *recordingConn) replies() []*dbus.Message {
	var out []*dbus.Message
	for _, m := range c.sent {
		if m.Type == dbus.TypeMethodReply || m.Type == dbus.TypeError {
			out = append(out, m)
		}
	}
	return out
}

func (c *recordingConn) signals() []*dbus.Message {
	var out []*dbus.Message
	for _, m := range c.sent {
		if m.Type == dbus.TypeSignal {
			out = append(out, m)
		}
	}
	return out
}

func newCall(iface, member string, body ...interface{}) *dbus.Message {
	msg := &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:        dbus.MakeVariant(ObjectPath),
			dbus.FieldInterface:   dbus.MakeVariant(iface),
			dbus.FieldMember:      dbus.MakeVariant(member),
			dbus.FieldSender:      dbus.MakeVariant(":1.42"),
			dbus.FieldDestination: dbus.MakeVariant(ServiceName),
		},
		Body: body,
	}
	if len(body) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(body...))
	}
	return msg
}
