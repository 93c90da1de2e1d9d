// Package rpc implements the method-call side of the compositor control
// plane: message classification, the method and property registries, the
// dispatcher that enforces the interface namespace, the handlers for every
// bound method, signal broadcasting and the introspection surface.
package rpc

import "github.com/godbus/dbus/v5"

const (
	ServiceName = "org.fde.Compositor"
	ObjectPath  = dbus.ObjectPath("/org/fde/Compositor")

	// Namespace is the interface prefix the dispatcher accepts.
	Namespace = "org.fde.Compositor"

	InterfaceCore      = Namespace + ".Core"
	InterfacePlugins   = Namespace + ".Plugins"
	InterfaceConfig    = Namespace + ".Config"
	InterfaceInput     = Namespace + ".Input"
	InterfaceRendering = Namespace + ".Rendering"
	InterfaceProtocols = Namespace + ".Protocols"

	InterfaceIntrospectable = "org.freedesktop.DBus.Introspectable"
)

// Members of the bound interfaces.
const (
	MethodGetProperty    = "GetProperty"
	MethodSetProperty    = "SetProperty"
	MethodIntrospect     = "Introspect"
	MethodRegisterPlugin = "RegisterPlugin"
	MethodGetConfigValue = "GetConfigValue"
	MethodSetConfigValue = "SetConfigValue"
	MethodReloadConfig   = "ReloadConfig"

	SignalPluginRegistered = "PluginRegistered"
)

// Error names carried in error replies.
const (
	ErrorUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorNoMemory      = "org.freedesktop.DBus.Error.NoMemory"
	ErrorFailed        = "org.freedesktop.DBus.Error.Failed"
)

// Property names.
const (
	PropertyPluginsNum = "plugins_num"
)
