package rpc

import (
	"errors"

	"github.com/godbus/dbus/v5"
)

// CoreMethods binds GetProperty, SetProperty and Introspect on the Core interface.
func CoreMethods(props *PropertyRegistry, surface *Surface) []MethodEntry {
	return []MethodEntry{
		{Interface: InterfaceCore, Method: MethodGetProperty, Handler: getHandler(props)},
		{Interface: InterfaceCore, Method: MethodSetProperty, Handler: setHandler(props)},
		{Interface: InterfaceCore, Method: MethodIntrospect, Handler: HandlerFunc(func(conn Conn, msg *dbus.Message) Result {
			return Reply(conn, msg, surface.XML())
		})},
	}
}

// getHandler answers a (name) -> variant lookup against props. It is shared
// by Core.GetProperty and Config.GetConfigValue.
func getHandler(props *PropertyRegistry) Handler {
	return HandlerFunc(func(conn Conn, msg *dbus.Message) Result {
		var name string
		if err := DecodeArgs(msg, "s", &name); err != nil {
			return ReplyError(conn, msg, ErrorInvalidArgs, err.Error())
		}
		v, err := props.Get(name)
		if errors.Is(err, ErrUnknownProperty) {
			return ReplyError(conn, msg, ErrorInvalidArgs, "Unknown or read-only property")
		}
		if err != nil {
			return ReplyError(conn, msg, ErrorFailed, err.Error())
		}
		return Reply(conn, msg, v)
	})
}

// setHandler answers a (name, variant) -> bool update against props.
func setHandler(props *PropertyRegistry) Handler {
	return HandlerFunc(func(conn Conn, msg *dbus.Message) Result {
		var (
			name  string
			value dbus.Variant
		)
		if err := DecodeArgs(msg, "sv", &name, &value); err != nil {
			return ReplyError(conn, msg, ErrorInvalidArgs, err.Error())
		}
		ok, err := props.Set(name, value)
		switch {
		case errors.Is(err, ErrUnknownProperty):
			return ReplyError(conn, msg, ErrorInvalidArgs, "Unknown or read-only property")
		case errors.Is(err, ErrUnsupportedType):
			return ReplyError(conn, msg, ErrorInvalidArgs, "Unsupported value type")
		case err != nil:
			return ReplyError(conn, msg, ErrorFailed, err.Error())
		}
		return Reply(conn, msg, ok)
	})
}
