package rpc

import (
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
	"fde.dev/ipc/internal/infrastructure/logging"
	"fde.dev/ipc/internal/infrastructure/registry"
)

type observerFunc func(plugindomain.Instance)

func (f observerFunc) PluginRegistered(inst plugindomain.Instance) { f(inst) }

// fixture wires a dispatcher the way the control plane does, over an
// in-memory connection.
type fixture struct {
	conn     *recordingConn
	plugins  *registry.PluginRegistry
	observed []plugindomain.Instance
	chain    *FilterChain
	methods  *MethodRegistry
	surface  *Surface
	settings map[string]interface{}
	reloads  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNoopLogger()
	f := &fixture{
		conn:     &recordingConn{},
		plugins:  registry.NewPluginRegistry(),
		surface:  DefaultSurface(),
		settings: map[string]interface{}{"hotreload.enabled": true, "plugins.dir": "/plugins"},
	}

	props, err := NewPropertyRegistry(PropertyEntry{
		Name: PropertyPluginsNum,
		Type: TypeInt32,
		Get:  func() interface{} { return int32(f.plugins.Len()) },
	})
	require.NoError(t, err)

	configProps, err := NewPropertyRegistry(
		PropertyEntry{Name: "plugins.dir", Type: TypeString, Get: func() interface{} { return f.settings["plugins.dir"] }},
		PropertyEntry{
			Name: "hotreload.enabled",
			Type: TypeBool,
			Get:  func() interface{} { return f.settings["hotreload.enabled"] },
			Set: func(v interface{}) bool {
				f.settings["hotreload.enabled"] = v
				return true
			},
		},
	)
	require.NoError(t, err)

	broadcaster := NewBroadcaster(f.conn, ObjectPath, logger)
	observer := observerFunc(func(inst plugindomain.Instance) { f.observed = append(f.observed, inst) })
	reload := func() error {
		f.reloads++
		if f.reloads > 1 {
			return errors.New("config file vanished")
		}
		return nil
	}

	f.methods, err = NewMethodRegistry(
		CoreMethods(props, f.surface),
		PluginMethods(f.plugins, broadcaster, observer, logger),
		ConfigMethods(configProps, reload, logger),
	)
	require.NoError(t, err)
	require.NoError(t, f.surface.Validate(f.methods))

	f.chain = NewFilterChain(logger,
		NewDispatcher(Namespace, f.methods, logger),
		IntrospectableFilter(ObjectPath, f.surface),
	)
	return f
}

func (f *fixture) call(iface, member string, body ...interface{}) *dbus.Message {
	before := len(f.conn.replies())
	f.chain.Handle(f.conn, newCall(iface, member, body...))
	replies := f.conn.replies()
	if len(replies) != before+1 {
		panic("expected exactly one reply")
	}
	return replies[len(replies)-1]
}

func TestRegisterPlugin_Idempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		reply := f.call(InterfacePlugins, MethodRegisterPlugin, "p", "input", int32(42))
		require.Equal(t, dbus.TypeMethodReply, reply.Type)
		assert.Equal(t, []interface{}{true}, reply.Body)
	}

	require.Equal(t, 1, f.plugins.Len())
	inst, ok := f.plugins.Get("p")
	require.True(t, ok)
	assert.Equal(t, int32(42), inst.PID)
	assert.True(t, inst.Capabilities.Input)
	assert.Equal(t, plugindomain.AddressFor("p"), inst.Address)
	assert.Len(t, f.observed, 2)
}

func TestRegisterPlugin_ReplyThenSignal(t *testing.T) {
	f := newFixture(t)

	f.call(InterfacePlugins, MethodRegisterPlugin, "p", "rendering", int32(7))

	require.Len(t, f.conn.sent, 2)
	assert.Equal(t, dbus.TypeMethodReply, f.conn.sent[0].Type)
	sig := f.conn.sent[1]
	assert.Equal(t, dbus.TypeSignal, sig.Type)
	assert.Equal(t, InterfaceCore, Interface(sig))
	assert.Equal(t, SignalPluginRegistered, Member(sig))
	assert.Equal(t, ObjectPath, Path(sig))
	assert.Equal(t, []interface{}{"p", "rendering", int32(7)}, sig.Body)
	assert.Equal(t, "ssi", BodySignature(sig))
}

func TestRegisterPlugin_UnknownHandlerTypeStillSucceeds(t *testing.T) {
	f := newFixture(t)

	reply := f.call(InterfacePlugins, MethodRegisterPlugin, "p", "telepathy", int32(7))
	assert.Equal(t, []interface{}{true}, reply.Body)

	inst, ok := f.plugins.Get("p")
	require.True(t, ok)
	assert.False(t, inst.Capabilities.Any())
}

func TestRegisterPlugin_InvalidArgs(t *testing.T) {
	tests := []struct {
		description string
		body        []interface{}
	}{
		{"no arguments", nil},
		{"pid as string", []interface{}{"p", "input", "42"}},
		{"pid as int64", []interface{}{"p", "input", int64(42)}},
		{"missing pid", []interface{}{"p", "input"}},
		{"extra argument", []interface{}{"p", "input", int32(1), true}},
		{"empty name", []interface{}{"", "input", int32(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			f := newFixture(t)
			reply := f.call(InterfacePlugins, MethodRegisterPlugin, tt.body...)
			assert.Equal(t, dbus.TypeError, reply.Type)
			assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))
			assert.NotEmpty(t, reply.Body[0])
			assert.Zero(t, f.plugins.Len())
			assert.Empty(t, f.conn.signals())
		})
	}
}

func TestRegisterPlugin_NotOnCoreInterface(t *testing.T) {
	f := newFixture(t)
	reply := f.call(InterfaceCore, MethodRegisterPlugin, "p", "input", int32(1))
	assert.Equal(t, ErrorUnknownMethod, ErrorName(reply))
}

func TestGetProperty_PluginsNum(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.call(InterfacePlugins, MethodRegisterPlugin, name, "input", int32(1))
	}

	reply := f.call(InterfaceCore, MethodGetProperty, PropertyPluginsNum)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Equal(t, "v", BodySignature(reply))
	v := reply.Body[0].(dbus.Variant)
	assert.Equal(t, int32(3), v.Value())

	f.plugins.Remove("b")
	reply = f.call(InterfaceCore, MethodGetProperty, PropertyPluginsNum)
	assert.Equal(t, int32(2), reply.Body[0].(dbus.Variant).Value())
}

func TestGetProperty_Errors(t *testing.T) {
	f := newFixture(t)

	reply := f.call(InterfaceCore, MethodGetProperty, "secret")
	assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))
	assert.Equal(t, "Unknown or read-only property", reply.Body[0])

	reply = f.call(InterfaceCore, MethodGetProperty, int32(1))
	assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))
}

func TestSetProperty_ReadOnlyPluginsNum(t *testing.T) {
	f := newFixture(t)
	f.call(InterfacePlugins, MethodRegisterPlugin, "a", "input", int32(1))

	reply := f.call(InterfaceCore, MethodSetProperty, PropertyPluginsNum, dbus.MakeVariant(int32(5)))
	assert.Equal(t, dbus.TypeError, reply.Type)
	assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))
	assert.Equal(t, "Unknown or read-only property", reply.Body[0])

	reply = f.call(InterfaceCore, MethodGetProperty, PropertyPluginsNum)
	assert.Equal(t, int32(1), reply.Body[0].(dbus.Variant).Value())
}

func TestSetProperty_MissingVariant(t *testing.T) {
	f := newFixture(t)
	reply := f.call(InterfaceCore, MethodSetProperty, PropertyPluginsNum, int32(5))
	assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))
}

func TestIntrospect_ListsEveryMethod(t *testing.T) {
	f := newFixture(t)

	reply := f.call(InterfaceCore, MethodIntrospect)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	doc := reply.Body[0].(string)
	assert.True(t, strings.HasPrefix(doc, "<!DOCTYPE node"))

	var node introspect.Node
	require.NoError(t, xml.Unmarshal([]byte(doc), &node))

	declared := map[string]bool{}
	for _, iface := range node.Interfaces {
		for _, m := range iface.Methods {
			declared[iface.Name+"."+m.Name] = true
		}
	}
	for _, key := range f.methods.Keys() {
		assert.True(t, declared[key.String()], "bound method %s missing", key)
	}
	for _, reserved := range []string{
		InterfaceInput + ".InjectInputEvent",
		InterfaceRendering + ".RegisterRenderer",
		InterfaceRendering + ".UpdateScene",
		InterfaceProtocols + ".AddProtocol",
	} {
		assert.True(t, declared[reserved], "reserved method %s missing", reserved)
	}
}

func TestSurface_ValidateRejectsUndeclared(t *testing.T) {
	methods, err := NewMethodRegistry([]MethodEntry{{Interface: InterfaceCore, Method: "Hidden", Handler: nopHandler}})
	require.NoError(t, err)
	assert.Error(t, DefaultSurface().Validate(methods))
}

func TestConfigMethods(t *testing.T) {
	f := newFixture(t)

	reply := f.call(InterfaceConfig, MethodGetConfigValue, "plugins.dir")
	assert.Equal(t, "/plugins", reply.Body[0].(dbus.Variant).Value())

	reply = f.call(InterfaceConfig, MethodSetConfigValue, "hotreload.enabled", dbus.MakeVariant(false))
	assert.Equal(t, []interface{}{true}, reply.Body)
	assert.Equal(t, false, f.settings["hotreload.enabled"])

	reply = f.call(InterfaceConfig, MethodSetConfigValue, "hotreload.enabled", dbus.MakeVariant(int32(1)))
	assert.Equal(t, "Unsupported value type", reply.Body[0])

	reply = f.call(InterfaceConfig, MethodSetConfigValue, "plugins.dir", dbus.MakeVariant("/tmp"))
	assert.Equal(t, ErrorInvalidArgs, ErrorName(reply))

	reply = f.call(InterfaceConfig, MethodReloadConfig)
	assert.Equal(t, []interface{}{true}, reply.Body)
	reply = f.call(InterfaceConfig, MethodReloadConfig)
	assert.Equal(t, []interface{}{false}, reply.Body)
}

func TestBroadcaster_SkipsUnsupportedArgs(t *testing.T) {
	conn := &recordingConn{}
	b := NewBroadcaster(conn, ObjectPath, logging.NewNoopLogger())

	err := b.Broadcast(InterfaceRendering, "FrameReady", Int32(16), Value(3.5), Value("ok"), Bool(true), Value(struct{}{}))
	require.NoError(t, err)

	require.Len(t, conn.sent, 1)
	assert.Equal(t, []interface{}{int32(16), "ok", true}, conn.sent[0].Body)
	assert.Equal(t, "isb", BodySignature(conn.sent[0]))
	assert.Equal(t, 1, conn.flushes)
}
