package rpc

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Surface is the advertised interface description of the service. It may
// declare more than is bound: the Input, Rendering and Protocols members are
// reserved for collaborators and answer UnknownMethod until bound.
type Surface struct {
	node introspect.Node
	xml  string
}

// NewSurface renders the description once; it is immutable afterwards.
func NewSurface(interfaces ...introspect.Interface) (*Surface, error) {
	s := &Surface{node: introspect.Node{
		Name:       string(ObjectPath),
		Interfaces: interfaces,
	}}
	body, err := xml.MarshalIndent(s.node, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering introspection data: %w", err)
	}
	s.xml = strings.TrimSpace(introspect.IntrospectDeclarationString) + "\n" + string(body) + "\n"
	return s, nil
}

// DefaultSurface describes every interface of the compositor service.
func DefaultSurface() *Surface {
	s, err := NewSurface(
		introspect.IntrospectData,
		introspect.Interface{
			Name: InterfaceCore,
			Methods: []introspect.Method{
				{Name: MethodGetProperty, Args: []introspect.Arg{in("name", "s"), out("value", "v")}},
				{Name: MethodSetProperty, Args: []introspect.Arg{in("name", "s"), in("value", "v"), out("success", "b")}},
				{Name: MethodIntrospect, Args: []introspect.Arg{out("xml", "s")}},
			},
			Signals: []introspect.Signal{
				{Name: SignalPluginRegistered, Args: []introspect.Arg{sig("plugin_name", "s"), sig("handler_type", "s"), sig("pid", "i")}},
			},
		},
		introspect.Interface{
			Name: InterfacePlugins,
			Methods: []introspect.Method{
				{Name: MethodRegisterPlugin, Args: []introspect.Arg{in("name", "s"), in("handler_type", "s"), in("pid", "i"), out("success", "b")}},
			},
		},
		introspect.Interface{
			Name: InterfaceConfig,
			Methods: []introspect.Method{
				{Name: MethodGetConfigValue, Args: []introspect.Arg{in("key", "s"), out("value", "v")}},
				{Name: MethodSetConfigValue, Args: []introspect.Arg{in("key", "s"), in("value", "v"), out("success", "b")}},
				{Name: MethodReloadConfig, Args: []introspect.Arg{out("success", "b")}},
			},
		},
		introspect.Interface{
			Name: InterfaceInput,
			Methods: []introspect.Method{
				{Name: "InjectInputEvent", Args: []introspect.Arg{in("event_type", "i"), in("data", "s"), out("handled", "b")}},
			},
			Signals: []introspect.Signal{
				{Name: "InputEventReceived", Args: []introspect.Arg{sig("event_type", "i"), sig("data", "s")}},
			},
		},
		introspect.Interface{
			Name: InterfaceRendering,
			Methods: []introspect.Method{
				{Name: "RegisterRenderer", Args: []introspect.Arg{in("plugin_name", "s"), in("render_mode", "s"), out("success", "b")}},
				{Name: "UpdateScene", Args: []introspect.Arg{in("scene_delta", "s"), out("applied", "b")}},
			},
			Signals: []introspect.Signal{
				{Name: "FrameReady", Args: []introspect.Arg{sig("timestamp", "i")}},
			},
		},
		introspect.Interface{
			Name: InterfaceProtocols,
			Methods: []introspect.Method{
				{Name: "AddProtocol", Args: []introspect.Arg{in("protocol_name", "s"), in("impl_path", "s"), out("added", "b")}},
			},
		},
	)
	if err != nil {
		// The description above is static; failing to render it is a bug.
		panic(err)
	}
	return s
}

func in(name, typ string) introspect.Arg  { return introspect.Arg{Name: name, Type: typ, Direction: "in"} }
func out(name, typ string) introspect.Arg { return introspect.Arg{Name: name, Type: typ, Direction: "out"} }
func sig(name, typ string) introspect.Arg { return introspect.Arg{Name: name, Type: typ} }

// XML returns the introspection document.
func (s *Surface) XML() string { return s.xml }

// Interfaces returns the declared interfaces.
func (s *Surface) Interfaces() []introspect.Interface { return s.node.Interfaces }

// Declares reports whether iface.method is part of the surface.
func (s *Surface) Declares(iface, method string) bool {
	for _, i := range s.node.Interfaces {
		if i.Name != iface {
			continue
		}
		for _, m := range i.Methods {
			if m.Name == method {
				return true
			}
		}
	}
	return false
}

// Validate fails if a bound method is missing from the surface.
func (s *Surface) Validate(methods *MethodRegistry) error {
	for _, key := range methods.Keys() {
		if !s.Declares(key.Interface, key.Method) {
			return fmt.Errorf("method %s is bound but not declared in the introspection data", key)
		}
	}
	return nil
}

// IntrospectableFilter answers the standard Introspectable.Introspect call on
// path with the same document Core.Introspect returns.
func IntrospectableFilter(path dbus.ObjectPath, surface *Surface) Filter {
	return FilterFunc(func(conn Conn, msg *dbus.Message) Result {
		if msg.Type != dbus.TypeMethodCall || Interface(msg) != InterfaceIntrospectable || Member(msg) != MethodIntrospect {
			return NotYetHandled
		}
		if Path(msg) != path {
			return NotYetHandled
		}
		res := Reply(conn, msg, surface.XML())
		_ = conn.Flush()
		return res
	})
}
