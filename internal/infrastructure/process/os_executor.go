package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"fde.dev/ipc/internal/application/ports"
)

// pollInterval is how often TerminatePID checks whether a foreign process is gone.
const pollInterval = 50 * time.Millisecond

// Executor implements ports.ProcessController with os/exec and unix signals
type Executor struct {
	stdout     io.Writer
	stderr     io.Writer
	logger     ports.LoggingGateway
	busAddress string
}

// NewExecutor creates an executor whose children inherit our stdout/stderr
func NewExecutor(logger ports.LoggingGateway) *Executor {
	return &Executor{stdout: os.Stdout, stderr: os.Stderr, logger: logger}
}

// NewExecutorWithOutput creates an executor that sends child output to the given writers
func NewExecutorWithOutput(stdout, stderr io.Writer, logger ports.LoggingGateway) *Executor {
	return &Executor{stdout: stdout, stderr: stderr, logger: logger}
}

// WithBusAddress returns a copy whose children are pointed at the bus at
// address through FDE_BUS_ADDRESS and DBUS_SESSION_BUS_ADDRESS. An empty
// address leaves the inherited environment alone.
func (e *Executor) WithBusAddress(address string) *Executor {
	cp := *e
	cp.busAddress = address
	return &cp
}

// Spawn starts path with its basename as argv[0] and no other arguments
func (e *Executor) Spawn(path string, onExit func(pid int, err error)) (ports.Child, error) {
	cmd := &exec.Cmd{
		Path:   path,
		Args:   []string{filepath.Base(path)},
		Stdout: e.stdout,
		Stderr: e.stderr,
	}
	if e.busAddress != "" {
		cmd.Env = append(os.Environ(),
			"FDE_BUS_ADDRESS="+e.busAddress,
			"DBUS_SESSION_BUS_ADDRESS="+e.busAddress,
		)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	c := &child{cmd: cmd, done: make(chan struct{})}
	go c.monitor(onExit)
	return c, nil
}

// TerminatePID signals a process we did not start. It refuses pids that
// would hit ourselves, init or a process group.
func (e *Executor) TerminatePID(ctx context.Context, pid int, grace time.Duration) (bool, error) {
	if pid <= 1 || pid == os.Getpid() {
		return false, fmt.Errorf("refusing to signal pid %d", pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, fmt.Errorf("failed to send SIGTERM to %d: %w", pid, err)
	}

	if waitGone(ctx, pid, grace) {
		return false, nil
	}

	e.logger.Log(ports.LogLevelWarn, "Forcing process termination", map[string]interface{}{"pid": pid})
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return true, fmt.Errorf("failed to kill %d: %w", pid, err)
	}
	return true, nil
}

// waitGone polls until pid no longer exists or grace elapses.
func waitGone(ctx context.Context, pid int, grace time.Duration) bool {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// child implements ports.Child
type child struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.RWMutex
	exitCode int
}

func (c *child) PID() int {
	if c.cmd.Process == nil {
		return -1
	}
	return c.cmd.Process.Pid
}

func (c *child) Done() <-chan struct{} { return c.done }

// ExitCode returns the exit status once the child has been reaped
func (c *child) ExitCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitCode
}

// Terminate tries SIGTERM first and escalates to SIGKILL after grace
func (c *child) Terminate(ctx context.Context, grace time.Duration) (bool, error) {
	select {
	case <-c.done:
		return false, nil
	default:
	}

	if err := c.cmd.Process.Signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return false, fmt.Errorf("failed to send SIGTERM to %d: %w", c.PID(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
		return false, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return true, fmt.Errorf("failed to kill %d: %w", c.PID(), err)
	}
	<-c.done
	return true, nil
}

func (c *child) monitor(onExit func(pid int, err error)) {
	err := c.cmd.Wait()

	c.mu.Lock()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		c.exitCode = exitErr.ExitCode()
	case err == nil:
		c.exitCode = 0
	default:
		c.exitCode = -1
	}
	c.mu.Unlock()

	close(c.done)
	if onExit != nil {
		onExit(c.cmd.Process.Pid, err)
	}
}

var _ ports.ProcessController = (*Executor)(nil)
