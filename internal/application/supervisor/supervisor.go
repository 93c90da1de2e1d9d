// Package supervisor launches plugin executables and runs their registration
// handshake without blocking the reactor: every spawned child gets a reactor
// timer, and a RegisterPlugin call that makes the entry live cancels it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"fde.dev/ipc/internal/application/ports"
	plugindomain "fde.dev/ipc/internal/core/domain/plugin"
	"fde.dev/ipc/internal/core/reactor"
	"fde.dev/ipc/internal/infrastructure/plugins/discovery"
)

const (
	DefaultRegistrationTimeout = 10 * time.Second
	DefaultShutdownGrace       = 3 * time.Second
)

// ErrNoPluginDir is returned when a scan is requested without a directory
var ErrNoPluginDir = errors.New("no plugin directory configured")

// Scanner lists launchable candidates in a directory
type Scanner interface {
	Scan(dir string) ([]discovery.Candidate, error)
}

// Options tunes the handshake and shutdown
type Options struct {
	RegistrationTimeout time.Duration
	ShutdownGrace       time.Duration
}

// Supervisor owns the plugin children. All methods except Shutdown must run
// on the reactor goroutine.
type Supervisor struct {
	loop      *reactor.Loop
	plugins   ports.PluginRepository
	scanner   Scanner
	processes ports.ProcessController
	logger    ports.LoggingGateway

	timeout time.Duration
	grace   time.Duration
	now     func() time.Time

	tracked map[string]*tracked
	// failed remembers the file version of candidates that timed out so a
	// rescan does not relaunch them until the executable changes.
	failed  map[string]time.Time
	reaping sync.WaitGroup
}

type tracked struct {
	child   ports.Child
	timer   *reactor.Timer
	path    string
	modTime time.Time
}

// New creates a supervisor
func New(loop *reactor.Loop, plugins ports.PluginRepository, scanner Scanner, processes ports.ProcessController, logger ports.LoggingGateway, opts Options) *Supervisor {
	if opts.RegistrationTimeout <= 0 {
		opts.RegistrationTimeout = DefaultRegistrationTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	return &Supervisor{
		loop:      loop,
		plugins:   plugins,
		scanner:   scanner,
		processes: processes,
		logger:    logger,
		timeout:   opts.RegistrationTimeout,
		grace:     opts.ShutdownGrace,
		now:       time.Now,
		tracked:   make(map[string]*tracked),
		failed:    make(map[string]time.Time),
	}
}

// RegistrationTimeout returns the handshake window applied to new spawns
func (s *Supervisor) RegistrationTimeout() time.Duration {
	return s.timeout
}

// SetRegistrationTimeout changes the window for children spawned from now on
func (s *Supervisor) SetRegistrationTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("registration timeout must be positive, got %s", d)
	}
	s.timeout = d
	return nil
}

// Pending returns the number of children still inside their handshake window
func (s *Supervisor) Pending() int {
	n := 0
	for _, t := range s.tracked {
		if t.timer != nil {
			n++
		}
	}
	return n
}

// LoadPluginsFromDirectory launches every new candidate in dir and returns
// how many were started. Names already in the registry are left alone. A
// spawn failure is logged and the scan continues.
func (s *Supervisor) LoadPluginsFromDirectory(dir string) (int, error) {
	if dir == "" {
		return 0, ErrNoPluginDir
	}
	candidates, err := s.scanner.Scan(dir)
	if err != nil {
		return 0, err
	}

	launched := 0
	for _, c := range candidates {
		if _, exists := s.plugins.Get(c.Name); exists {
			continue
		}
		if modTime, failed := s.failed[c.Name]; failed && modTime.Equal(c.ModTime) {
			s.logger.Log(ports.LogLevelDebug, "Skipping plugin that failed to register", map[string]interface{}{
				"plugin": c.Name,
			})
			continue
		}
		if err := s.launch(c); err != nil {
			s.logger.LogError(err, "Failed to launch plugin", map[string]interface{}{
				"plugin": c.Name,
				"path":   c.Path,
			})
			continue
		}
		launched++
	}
	return launched, nil
}

func (s *Supervisor) launch(c discovery.Candidate) error {
	name := c.Name
	child, err := s.processes.Spawn(c.Path, func(pid int, err error) {
		_ = s.loop.Post(func() { s.childExited(name, pid, err) })
	})
	if err != nil {
		return err
	}

	inst := plugindomain.NewSpawned(name, c.Path, int32(child.PID()), s.now())
	if err := s.plugins.Insert(inst); err != nil {
		s.terminateAsync(name, child)
		return err
	}
	if err := s.plugins.SetState(name, plugindomain.StateAwaitingRegistration); err != nil {
		return err
	}

	t := &tracked{child: child, path: c.Path, modTime: c.ModTime}
	t.timer = s.loop.AfterFunc(s.timeout, func() { s.expire(name, t) })
	s.tracked[name] = t

	s.logger.Log(ports.LogLevelInfo, "Plugin launched", map[string]interface{}{
		"plugin":  name,
		"pid":     child.PID(),
		"timeout": s.timeout.String(),
	})
	return nil
}

// PluginRegistered is called by the registration handler after the registry
// has been updated. A live entry ends the handshake; an entry that is still
// not live (unknown handler type) keeps waiting.
func (s *Supervisor) PluginRegistered(inst plugindomain.Instance) {
	t, ok := s.tracked[inst.Name]
	if !ok || t.timer == nil || !inst.IsLive() {
		return
	}
	t.timer.Stop()
	t.timer = nil
	delete(s.failed, inst.Name)

	if err := s.plugins.SetState(inst.Name, plugindomain.StateRegistered); err != nil {
		s.logger.LogError(err, "Failed to mark plugin registered", map[string]interface{}{"plugin": inst.Name})
		return
	}
	s.logger.Log(ports.LogLevelInfo, "Plugin completed registration", map[string]interface{}{
		"plugin":       inst.Name,
		"capabilities": inst.Capabilities.String(),
		"address":      inst.Address,
	})
}

func (s *Supervisor) expire(name string, t *tracked) {
	if s.tracked[name] != t {
		return
	}
	t.timer = nil

	inst, ok := s.plugins.Get(name)
	if !ok {
		delete(s.tracked, name)
		return
	}
	if inst.IsLive() {
		_ = s.plugins.SetState(name, plugindomain.StateRegistered)
		return
	}

	if err := s.plugins.SetState(name, plugindomain.StateTimedOut); err != nil {
		s.logger.LogError(err, "Failed to time out plugin", map[string]interface{}{"plugin": name})
	}
	s.plugins.Remove(name)
	delete(s.tracked, name)
	s.failed[name] = t.modTime

	s.logger.Log(ports.LogLevelWarn, "Plugin did not register in time", map[string]interface{}{
		"plugin":  name,
		"pid":     t.child.PID(),
		"timeout": s.timeout.String(),
	})
	s.terminateAsync(name, t.child)
}

func (s *Supervisor) terminateAsync(name string, child ports.Child) {
	s.reaping.Add(1)
	go func() {
		defer s.reaping.Done()
		forced, err := child.Terminate(context.Background(), s.grace)
		s.logTermination(name, child.PID(), forced, err)
	}()
}

func (s *Supervisor) childExited(name string, pid int, err error) {
	fields := map[string]interface{}{"plugin": name, "pid": pid}
	if err != nil {
		fields["status"] = err.Error()
	}
	if t, ok := s.tracked[name]; ok && t.child.PID() == pid {
		s.logger.Log(ports.LogLevelInfo, "Plugin process exited", fields)
		return
	}
	s.logger.Log(ports.LogLevelDebug, "Reaped plugin process", fields)
}

// Shutdown terminates every tracked plugin and empties the registry. It must
// be called after the reactor has stopped.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var g multierror.Group

	for _, inst := range s.plugins.Snapshot() {
		var child ports.Child
		if t, ok := s.tracked[inst.Name]; ok {
			if t.timer != nil {
				t.timer.Stop()
			}
			child = t.child
		}
		g.Go(func() error { return s.terminate(ctx, inst, child) })

		if err := s.plugins.SetState(inst.Name, plugindomain.StateKilled); err != nil {
			s.logger.LogError(err, "Unexpected plugin state at shutdown", map[string]interface{}{"plugin": inst.Name})
		}
		s.plugins.Remove(inst.Name)
	}
	s.tracked = make(map[string]*tracked)

	err := g.Wait().ErrorOrNil()
	s.reaping.Wait()
	return err
}

func (s *Supervisor) terminate(ctx context.Context, inst plugindomain.Instance, child ports.Child) error {
	declared := int(inst.PID)

	if child != nil {
		forced, err := child.Terminate(ctx, s.grace)
		s.logTermination(inst.Name, child.PID(), forced, err)
		if err != nil {
			return fmt.Errorf("terminating %s: %w", inst.Name, err)
		}
		if declared <= 0 || declared == child.PID() {
			return nil
		}
	}
	if declared <= 0 {
		s.logger.Log(ports.LogLevelDebug, "Plugin has no process to terminate", map[string]interface{}{"plugin": inst.Name})
		return nil
	}

	forced, err := s.processes.TerminatePID(ctx, declared, s.grace)
	s.logTermination(inst.Name, declared, forced, err)
	if err != nil {
		return fmt.Errorf("terminating %s (pid %d): %w", inst.Name, declared, err)
	}
	return nil
}

func (s *Supervisor) logTermination(name string, pid int, forced bool, err error) {
	fields := map[string]interface{}{"plugin": name, "pid": pid}
	switch {
	case err != nil:
		s.logger.LogError(err, "Failed to terminate plugin", fields)
	case forced:
		s.logger.Log(ports.LogLevelWarn, "Plugin killed after grace period", fields)
	default:
		s.logger.Log(ports.LogLevelInfo, "Plugin stopped gracefully", fields)
	}
}
