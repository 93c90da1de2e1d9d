package controlplane

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fde.dev/ipc/internal/application/ports"
	"fde.dev/ipc/internal/infrastructure/logging"
	"fde.dev/ipc/internal/rpc"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []*dbus.Message
	deliver func(*dbus.Message)
	closed  bool

	done     chan struct{}
	hangOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (t *fakeTransport) Send(msg *dbus.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Flush() error { return nil }

func (t *fakeTransport) Serve(deliver func(*dbus.Message)) {
	t.mu.Lock()
	t.deliver = deliver
	t.mu.Unlock()
}

func (t *fakeTransport) Done() <-chan struct{} { return t.done }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) hangUp() { t.hangOnce.Do(func() { close(t.done) }) }

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) served() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deliver != nil
}

// call delivers a method call and waits for its reply
func (t *fakeTransport) call(tb testing.TB, iface, member string, body ...interface{}) *dbus.Message {
	tb.Helper()
	msg := &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:      dbus.MakeVariant(rpc.ObjectPath),
			dbus.FieldInterface: dbus.MakeVariant(iface),
			dbus.FieldMember:    dbus.MakeVariant(member),
			dbus.FieldSender:    dbus.MakeVariant(":1.7"),
		},
		Body: body,
	}
	if len(body) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(body...))
	}

	require.Eventually(tb, t.served, 5*time.Second, 5*time.Millisecond)
	t.mu.Lock()
	deliver := t.deliver
	from := len(t.sent)
	t.mu.Unlock()
	deliver(msg)

	var reply *dbus.Message
	require.Eventually(tb, func() bool {
		reply = t.replyAfter(from)
		return reply != nil
	}, 5*time.Second, 5*time.Millisecond)
	return reply
}

// replyAfter returns the first reply sent at or after index from. Calls in
// these tests are issued one at a time, so it answers the latest call.
func (t *fakeTransport) replyAfter(from int) *dbus.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.sent[from:] {
		if m.Type == dbus.TypeMethodReply || m.Type == dbus.TypeError {
			return m
		}
	}
	return nil
}

func (t *fakeTransport) signals() []*dbus.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*dbus.Message
	for _, m := range t.sent {
		if m.Type == dbus.TypeSignal {
			out = append(out, m)
		}
	}
	return out
}

type fakeChild struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (c *fakeChild) PID() int              { return c.pid }
func (c *fakeChild) Done() <-chan struct{} { return c.done }
func (c *fakeChild) Terminate(ctx context.Context, grace time.Duration) (bool, error) {
	c.once.Do(func() { close(c.done) })
	return false, nil
}

type fakeProcesses struct {
	mu       sync.Mutex
	children map[string]*fakeChild
	pids     []int
}

func (p *fakeProcesses) Spawn(path string, onExit func(pid int, err error)) (ports.Child, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &fakeChild{pid: 2000 + len(p.children), done: make(chan struct{})}
	p.children[filepath.Base(path)] = c
	return c, nil
}

func (p *fakeProcesses) TerminatePID(ctx context.Context, pid int, grace time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pids = append(p.pids, pid)
	return false, nil
}

func (p *fakeProcesses) terminated(name string) bool {
	p.mu.Lock()
	c, ok := p.children[name]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type fixture struct {
	cp        *ControlPlane
	transport *fakeTransport
	processes *fakeProcesses
	fs        afero.Fs
	cancel    context.CancelFunc
	result    chan error
	reloaded  Settings
	reloadErr error
}

func testSettings() Settings {
	return Settings{
		PluginDir:           "/plugins",
		RegistrationTimeout: time.Minute,
		ShutdownGrace:       50 * time.Millisecond,
		HotReload:           true,
		ScanInterval:        time.Hour,
	}
}

func newFixture(t *testing.T, executables ...string) *fixture {
	t.Helper()
	f := &fixture{
		transport: newFakeTransport(),
		processes: &fakeProcesses{children: make(map[string]*fakeChild)},
		fs:        afero.NewMemMapFs(),
		result:    make(chan error, 1),
	}
	require.NoError(t, f.fs.MkdirAll("/plugins", 0o755))
	for _, name := range executables {
		require.NoError(t, afero.WriteFile(f.fs, filepath.Join("/plugins", name), nil, 0o755))
	}

	f.reloaded = testSettings()
	cp, err := New(testSettings(), Dependencies{
		Transport: f.transport,
		Processes: f.processes,
		Fs:        f.fs,
		Logger:    logging.NewNoopLogger(),
		Reload:    func() (Settings, error) { return f.reloaded, f.reloadErr },
	})
	require.NoError(t, err)
	f.cp = cp

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.result <- cp.Run(ctx) }()
	t.Cleanup(cancel)
	return f
}

func (f *fixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("control plane did not stop")
		return nil
	}
}

func TestControlPlane_InitialScanLaunchesPlugins(t *testing.T) {
	f := newFixture(t, "echo-plugin", ".hidden")

	require.Eventually(t, func() bool {
		n, err := f.cp.PluginCount(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	plugins, err := f.cp.Plugins(context.Background())
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.Equal(t, "echo-plugin", plugins[0].Name)
	assert.False(t, plugins[0].IsLive())
}

func TestControlPlane_RegisterPluginOverTheBus(t *testing.T) {
	f := newFixture(t, "echo-plugin")

	reply := f.transport.call(t, rpc.InterfacePlugins, rpc.MethodRegisterPlugin, "echo-plugin", "input", int32(42))
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Equal(t, []interface{}{true}, reply.Body)

	require.Eventually(t, func() bool { return len(f.transport.signals()) == 1 }, 5*time.Second, 5*time.Millisecond)
	sig := f.transport.signals()[0]
	assert.Equal(t, []interface{}{"echo-plugin", "input", int32(42)}, sig.Body)

	reply = f.transport.call(t, rpc.InterfaceCore, rpc.MethodGetProperty, rpc.PropertyPluginsNum)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Equal(t, int32(1), reply.Body[0].(dbus.Variant).Value())

	plugins, err := f.cp.Plugins(context.Background())
	require.NoError(t, err)
	require.Len(t, plugins, 1)
	assert.True(t, plugins[0].IsLive())
	assert.Equal(t, int32(42), plugins[0].PID)
}

func TestControlPlane_ReservedSurfaceIsUnknown(t *testing.T) {
	f := newFixture(t)

	reply := f.transport.call(t, rpc.InterfaceInput, "InjectInputEvent", int32(1), "key")
	require.Equal(t, dbus.TypeError, reply.Type)
	assert.Equal(t, rpc.ErrorUnknownMethod, rpc.ErrorName(reply))

	reply = f.transport.call(t, rpc.InterfaceIntrospectable, rpc.MethodIntrospect)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Contains(t, reply.Body[0], rpc.InterfaceProtocols)
}

func TestControlPlane_ConfigInterface(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		member      string
		body        []interface{}
		expectError string
		expected    interface{}
	}{
		{
			name:     "read plugin dir",
			member:   rpc.MethodGetConfigValue,
			body:     []interface{}{"plugins.dir"},
			expected: dbus.MakeVariant("/plugins"),
		},
		{
			name:     "reject zero timeout",
			member:   rpc.MethodSetConfigValue,
			body:     []interface{}{"plugins.registration_timeout", dbus.MakeVariant(int32(0))},
			expected: false,
		},
		{
			name:     "accept positive timeout",
			member:   rpc.MethodSetConfigValue,
			body:     []interface{}{"plugins.registration_timeout", dbus.MakeVariant(int32(3))},
			expected: true,
		},
		{
			name:     "timeout reads back",
			member:   rpc.MethodGetConfigValue,
			body:     []interface{}{"plugins.registration_timeout"},
			expected: dbus.MakeVariant(int32(3)),
		},
		{
			name:        "scan interval is read-only",
			member:      rpc.MethodSetConfigValue,
			body:        []interface{}{"hotreload.scan_interval", dbus.MakeVariant(int32(1))},
			expectError: rpc.ErrorInvalidArgs,
		},
		{
			name:        "wrong value type",
			member:      rpc.MethodSetConfigValue,
			body:        []interface{}{"hotreload.enabled", dbus.MakeVariant("yes")},
			expectError: rpc.ErrorInvalidArgs,
		},
		{
			name:     "disable hot reload",
			member:   rpc.MethodSetConfigValue,
			body:     []interface{}{"hotreload.enabled", dbus.MakeVariant(false)},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := f.transport.call(t, rpc.InterfaceConfig, tt.member, tt.body...)
			if tt.expectError != "" {
				require.Equal(t, dbus.TypeError, reply.Type)
				assert.Equal(t, tt.expectError, rpc.ErrorName(reply))
				return
			}
			require.Equal(t, dbus.TypeMethodReply, reply.Type)
			require.Len(t, reply.Body, 1)
			assert.Equal(t, tt.expected, reply.Body[0])
		})
	}

	settings, err := f.cp.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, settings.RegistrationTimeout)
	assert.False(t, settings.HotReload)
}

func TestControlPlane_ReloadConfig(t *testing.T) {
	f := newFixture(t)
	f.reloaded.RegistrationTimeout = 7 * time.Second
	f.reloaded.HotReload = false

	reply := f.transport.call(t, rpc.InterfaceConfig, rpc.MethodReloadConfig)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Equal(t, []interface{}{true}, reply.Body)

	settings, err := f.cp.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, settings.RegistrationTimeout)
	assert.False(t, settings.HotReload)
}

func TestControlPlane_ReloadConfigFailure(t *testing.T) {
	f := newFixture(t)
	f.reloadErr = errors.New("bad file")

	reply := f.transport.call(t, rpc.InterfaceConfig, rpc.MethodReloadConfig)
	require.Equal(t, dbus.TypeMethodReply, reply.Type)
	assert.Equal(t, []interface{}{false}, reply.Body)
}

func TestControlPlane_CancelShutsDownPlugins(t *testing.T) {
	f := newFixture(t, "echo-plugin")
	require.Eventually(t, func() bool {
		n, _ := f.cp.PluginCount(context.Background())
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.cancel()
	assert.NoError(t, f.wait(t))

	assert.True(t, f.processes.terminated("echo-plugin"))
	assert.True(t, f.transport.isClosed())
	assert.Equal(t, 0, f.cp.plugins.Len())

	_, err := f.cp.PluginCount(context.Background())
	assert.Error(t, err)
}

func TestControlPlane_TransportHangupIsFatal(t *testing.T) {
	f := newFixture(t, "echo-plugin")
	require.Eventually(t, func() bool {
		n, _ := f.cp.PluginCount(context.Background())
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.transport.hangUp()
	assert.ErrorIs(t, f.wait(t), ErrTransportLost)
	assert.True(t, f.processes.terminated("echo-plugin"))
	assert.True(t, f.transport.isClosed())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(testSettings(), Dependencies{})
	assert.Error(t, err)
}
