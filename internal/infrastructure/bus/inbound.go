package bus

import (
	"github.com/godbus/dbus/v5"
)

// inbound is installed as the connection's handler. Method calls reach the
// transport through intercept; the handler only claims every object,
// interface and member so godbus neither routes nor answers them itself.
type inbound struct {
	t *Transport
}

func (h *inbound) LookupObject(dbus.ObjectPath) (dbus.ServerObject, bool) { return h, true }
func (h *inbound) LookupInterface(string) (dbus.Interface, bool)          { return h, true }
func (h *inbound) LookupMethod(string) (dbus.Method, bool)                { return rawMethod{t: h.t}, true }

// rawMethod swallows calls godbus dispatches on its own goroutines. The
// intercepted copy is the one the rpc handlers see and answer.
type rawMethod struct {
	t *Transport
}

// DecodeArguments leaves the body undecoded.
func (m rawMethod) DecodeArguments(_ *dbus.Conn, _ string, msg *dbus.Message, _ []interface{}) ([]interface{}, error) {
	return []interface{}{msg}, nil
}

func (m rawMethod) Call(args ...interface{}) ([]interface{}, error) {
	return nil, nil
}

func (m rawMethod) NumArguments() int             { return 1 }
func (m rawMethod) NumReturns() int               { return 0 }
func (m rawMethod) ArgumentValue(int) interface{} { return nil }
func (m rawMethod) ReturnValue(int) interface{}   { return nil }

var (
	_ dbus.Handler         = (*inbound)(nil)
	_ dbus.ServerObject    = (*inbound)(nil)
	_ dbus.Interface       = (*inbound)(nil)
	_ dbus.Method          = rawMethod{}
	_ dbus.ArgumentDecoder = rawMethod{}
)
