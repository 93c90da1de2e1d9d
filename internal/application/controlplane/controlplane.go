// Package controlplane assembles the compositor's IPC control plane: one
// context object that owns the reactor, the registries, the dispatcher and
// the plugin supervisor for the lifetime of Run.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"fde.dev/ipc/internal/application/ports"
	"fde.dev/ipc/internal/application/supervisor"
	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
	"fde.dev/ipc/internal/core/reactor"
	"fde.dev/ipc/internal/infrastructure/plugins/discovery"
	"fde.dev/ipc/internal/infrastructure/registry"
	"fde.dev/ipc/internal/rpc"
)

// ErrTransportLost is returned by Run when the bus connection hangs up
var ErrTransportLost = errors.New("control plane lost its bus connection")

// shutdownSlack bounds Shutdown beyond the per-plugin grace period
const shutdownSlack = 5 * time.Second

// Transport is the bus side of the control plane
type Transport interface {
	rpc.Conn
	// Serve delivers inbound method calls, in arrival order, from any goroutine
	Serve(deliver func(*dbus.Message))
	Done() <-chan struct{}
	Close() error
}

// Settings are the runtime options of the control plane
type Settings struct {
	PluginDir           string
	RegistrationTimeout time.Duration
	ShutdownGrace       time.Duration
	HotReload           bool
	ScanInterval        time.Duration
	SidecarSuffixes     []string
}

// Dependencies are the collaborators the control plane is built from
type Dependencies struct {
	Transport Transport
	Processes ports.ProcessController
	Fs        afero.Fs
	Logger    ports.LoggingGateway
	// Reload re-reads the configuration source; nil disables ReloadConfig
	Reload func() (Settings, error)
}

// ControlPlane replaces process-wide server state with one explicit object
type ControlPlane struct {
	settings  Settings
	transport Transport
	logger    ports.LoggingGateway
	reload    func() (Settings, error)

	loop       *reactor.Loop
	plugins    *registry.PluginRegistry
	supervisor *supervisor.Supervisor
	methods    *rpc.MethodRegistry
	chain      *rpc.FilterChain
}

// New wires the registries, handlers and supervisor. Duplicate method or
// property bindings and undeclared methods are construction errors.
func New(settings Settings, deps Dependencies) (*ControlPlane, error) {
	if deps.Transport == nil || deps.Processes == nil || deps.Logger == nil {
		return nil, errors.New("control plane needs a transport, a process controller and a logger")
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	cp := &ControlPlane{
		settings:  settings,
		transport: deps.Transport,
		logger:    deps.Logger,
		reload:    deps.Reload,
		loop:      reactor.New(),
		plugins:   registry.NewPluginRegistry(),
	}

	scanner := discovery.NewFileSystemScanner(deps.Fs, settings.SidecarSuffixes, deps.Logger.Named("discovery"))
	cp.supervisor = supervisor.New(cp.loop, cp.plugins, scanner, deps.Processes, deps.Logger.Named("supervisor"), supervisor.Options{
		RegistrationTimeout: settings.RegistrationTimeout,
		ShutdownGrace:       settings.ShutdownGrace,
	})

	properties, err := rpc.NewPropertyRegistry(rpc.PropertyEntry{
		Name: rpc.PropertyPluginsNum,
		Type: rpc.TypeInt32,
		Get:  func() interface{} { return int32(cp.plugins.Len()) },
	})
	if err != nil {
		return nil, err
	}
	configValues, err := cp.configProperties()
	if err != nil {
		return nil, err
	}

	var reload func() error
	if cp.reload != nil {
		reload = cp.reloadSettings
	}

	rpcLogger := deps.Logger.Named("rpc")
	surface := rpc.DefaultSurface()
	broadcaster := rpc.NewBroadcaster(cp.transport, rpc.ObjectPath, rpcLogger)
	cp.methods, err = rpc.NewMethodRegistry(
		rpc.CoreMethods(properties, surface),
		rpc.PluginMethods(cp.plugins, broadcaster, cp.supervisor, rpcLogger),
		rpc.ConfigMethods(configValues, reload, rpcLogger),
	)
	if err != nil {
		return nil, err
	}
	if err := surface.Validate(cp.methods); err != nil {
		return nil, err
	}

	cp.chain = rpc.NewFilterChain(rpcLogger,
		rpc.NewDispatcher(rpc.Namespace, cp.methods, rpcLogger),
		rpc.IntrospectableFilter(rpc.ObjectPath, surface),
	)
	return cp, nil
}

// configProperties is the whitelist behind the Config interface
func (cp *ControlPlane) configProperties() (*rpc.PropertyRegistry, error) {
	return rpc.NewPropertyRegistry(
		rpc.PropertyEntry{
			Name: "plugins.dir",
			Type: rpc.TypeString,
			Get:  func() interface{} { return cp.settings.PluginDir },
		},
		rpc.PropertyEntry{
			Name: "plugins.registration_timeout",
			Type: rpc.TypeInt32,
			Get:  func() interface{} { return int32(cp.supervisor.RegistrationTimeout() / time.Second) },
			Set: func(v interface{}) bool {
				seconds, ok := v.(int32)
				if !ok || seconds <= 0 {
					return false
				}
				d := time.Duration(seconds) * time.Second
				if err := cp.supervisor.SetRegistrationTimeout(d); err != nil {
					return false
				}
				cp.settings.RegistrationTimeout = d
				return true
			},
		},
		rpc.PropertyEntry{
			Name: "hotreload.enabled",
			Type: rpc.TypeBool,
			Get:  func() interface{} { return cp.settings.HotReload },
			Set: func(v interface{}) bool {
				enabled, ok := v.(bool)
				if !ok {
					return false
				}
				cp.settings.HotReload = enabled
				return true
			},
		},
		rpc.PropertyEntry{
			Name: "hotreload.scan_interval",
			Type: rpc.TypeInt32,
			Get:  func() interface{} { return int32(cp.settings.ScanInterval / time.Second) },
		},
	)
}

// Run serves the bus until ctx is cancelled or the transport hangs up. On the
// way out every plugin is terminated and the transport is closed. Only a
// transport failure is returned as an error.
func (cp *ControlPlane) Run(ctx context.Context) error {
	cp.transport.Serve(func(msg *dbus.Message) {
		if err := cp.loop.Post(func() { cp.chain.Handle(cp.transport, msg) }); err != nil {
			cp.logger.Log(ports.LogLevelDebug, "Dropping call received after shutdown", map[string]interface{}{
				"member": rpc.Member(msg),
			})
		}
	})
	cp.loop.Watch(cp.transport.Done(), ErrTransportLost)
	_ = cp.loop.Post(cp.scan)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return cp.loop.Run(gctx)
	})
	if cp.settings.PluginDir != "" {
		watcher := &discovery.Watcher{
			Dir:      cp.settings.PluginDir,
			Interval: cp.settings.ScanInterval,
			OnChange: func() { _ = cp.loop.Post(cp.rescan) },
			Logger:   cp.logger.Named("discovery"),
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	cp.logger.Log(ports.LogLevelInfo, "Control plane running", map[string]interface{}{
		"service":    rpc.ServiceName,
		"plugin_dir": cp.settings.PluginDir,
	})
	runErr := g.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cp.settings.ShutdownGrace+shutdownSlack)
	defer stop()
	if err := cp.supervisor.Shutdown(shutdownCtx); err != nil {
		cp.logger.LogError(err, "Plugin shutdown incomplete", nil)
	}
	if err := cp.transport.Close(); err != nil && runErr == nil {
		cp.logger.LogError(err, "Closing bus connection", nil)
	}

	cp.logger.Log(ports.LogLevelInfo, "Control plane stopped", nil)
	return runErr
}

func (cp *ControlPlane) scan() {
	launched, err := cp.supervisor.LoadPluginsFromDirectory(cp.settings.PluginDir)
	switch {
	case discovery.IsNotExist(err):
		cp.logger.Log(ports.LogLevelWarn, "Plugin directory does not exist", map[string]interface{}{
			"dir": cp.settings.PluginDir,
		})
	case err != nil:
		cp.logger.LogError(err, "Scanning plugin directory", map[string]interface{}{"dir": cp.settings.PluginDir})
	case launched > 0:
		cp.logger.Log(ports.LogLevelInfo, "Launched plugins", map[string]interface{}{"count": launched})
	}
}

func (cp *ControlPlane) rescan() {
	if cp.settings.HotReload {
		cp.scan()
	}
}

// reloadSettings runs on the reactor and applies the runtime-writable keys
func (cp *ControlPlane) reloadSettings() error {
	next, err := cp.reload()
	if err != nil {
		return err
	}
	if err := cp.supervisor.SetRegistrationTimeout(next.RegistrationTimeout); err != nil {
		return fmt.Errorf("applying reloaded configuration: %w", err)
	}
	cp.settings.RegistrationTimeout = next.RegistrationTimeout
	cp.settings.HotReload = next.HotReload

	if next.PluginDir != cp.settings.PluginDir || next.ScanInterval != cp.settings.ScanInterval {
		cp.logger.Log(ports.LogLevelWarn, "Plugin directory and scan interval changes apply after restart", map[string]interface{}{
			"plugin_dir":    next.PluginDir,
			"scan_interval": next.ScanInterval.String(),
		})
	}
	return nil
}

// Plugins returns copies of the tracked plugins. Other subsystems use it to
// observe capability flags without touching the registry.
func (cp *ControlPlane) Plugins(ctx context.Context) ([]plugindomain.Instance, error) {
	var out []plugindomain.Instance
	if err := cp.loop.Call(ctx, func() { out = cp.plugins.Snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// PluginCount returns the number of tracked plugins
func (cp *ControlPlane) PluginCount(ctx context.Context) (int, error) {
	var n int
	if err := cp.loop.Call(ctx, func() { n = cp.plugins.Len() }); err != nil {
		return 0, err
	}
	return n, nil
}

// Settings returns the current runtime settings
func (cp *ControlPlane) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := cp.loop.Call(ctx, func() { s = cp.settings }); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Methods returns the bound method table
func (cp *ControlPlane) Methods() *rpc.MethodRegistry {
	return cp.methods
}
