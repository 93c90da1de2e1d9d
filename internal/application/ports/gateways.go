package ports

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LoggingGateway defines the interface for logging operations
type LoggingGateway interface {
	// Log logs a message with the specified level
	Log(level LogLevel, message string, fields map[string]interface{})

	// LogError logs an error
	LogError(err error, message string, fields map[string]interface{})

	// SetLogLevel sets the logging level
	SetLogLevel(level LogLevel)

	// GetLogLevel returns the current logging level
	GetLogLevel() LogLevel

	// Named returns a gateway whose output is tagged with a component name
	Named(name string) LoggingGateway
}

// LogLevel defines the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel converts a configuration string into a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return level, nil
	case "warning":
		return LogLevelWarn, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// ProcessController launches plugin executables and terminates plugin processes
type ProcessController interface {
	// Spawn starts path with its basename as argv[0] and no further arguments.
	// onExit is invoked from a background goroutine once the child is reaped.
	Spawn(path string, onExit func(pid int, err error)) (Child, error)

	// TerminatePID ends a process we did not spawn: graceful signal first,
	// forced kill if it is still alive after grace. It reports whether the
	// forced kill was needed.
	TerminatePID(ctx context.Context, pid int, grace time.Duration) (bool, error)
}

// Child is a process started by a ProcessController
type Child interface {
	// PID returns the OS process id
	PID() int

	// Terminate sends the graceful signal, waits up to grace for exit and
	// escalates to a forced kill. It returns once the child is reaped and
	// reports whether the forced kill was needed.
	Terminate(ctx context.Context, grace time.Duration) (bool, error)

	// Done is closed once the child has exited and been reaped
	Done() <-chan struct{}
}
