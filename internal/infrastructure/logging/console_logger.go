package logging

import (
	"io"
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"

	"fde.dev/ipc/internal/application/ports"
)

// ConsoleLogger implements ports.LoggingGateway on top of an hclog logger
type ConsoleLogger struct {
	logger hclog.Logger
}

// NewConsoleLogger creates a logger writing human readable lines to out
func NewConsoleLogger(out io.Writer, level ports.LogLevel) *ConsoleLogger {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "fde-ipc",
			Output: out,
			Level:  toHCLevel(level),
		}),
	}
}

// NewNoopLogger returns a gateway that discards everything
func NewNoopLogger() *ConsoleLogger {
	return &ConsoleLogger{logger: hclog.NewNullLogger()}
}

// Log writes message at level with fields as key/value pairs
func (l *ConsoleLogger) Log(level ports.LogLevel, message string, fields map[string]interface{}) {
	args := flatten(fields)
	switch level {
	case ports.LogLevelDebug:
		l.logger.Debug(message, args...)
	case ports.LogLevelInfo:
		l.logger.Info(message, args...)
	case ports.LogLevelWarn:
		l.logger.Warn(message, args...)
	default:
		l.logger.Error(message, args...)
	}
}

// LogError logs err at error level
func (l *ConsoleLogger) LogError(err error, message string, fields map[string]interface{}) {
	args := flatten(fields)
	if err != nil {
		args = append(args, "error", err)
	}
	l.logger.Error(message, args...)
}

// SetLogLevel sets the logging level of this logger and every sub-logger
func (l *ConsoleLogger) SetLogLevel(level ports.LogLevel) {
	l.logger.SetLevel(toHCLevel(level))
}

// GetLogLevel returns the current logging level
func (l *ConsoleLogger) GetLogLevel() ports.LogLevel {
	switch l.logger.GetLevel() {
	case hclog.Trace, hclog.Debug:
		return ports.LogLevelDebug
	case hclog.Info:
		return ports.LogLevelInfo
	case hclog.Warn:
		return ports.LogLevelWarn
	default:
		return ports.LogLevelError
	}
}

// Named returns a sub-logger for a component
func (l *ConsoleLogger) Named(name string) ports.LoggingGateway {
	return &ConsoleLogger{logger: l.logger.Named(name)}
}

func toHCLevel(level ports.LogLevel) hclog.Level {
	switch level {
	case ports.LogLevelDebug:
		return hclog.Debug
	case ports.LogLevelInfo:
		return hclog.Info
	case ports.LogLevelWarn:
		return hclog.Warn
	default:
		return hclog.Error
	}
}

// flatten turns a field map into hclog's alternating key/value form with a
// stable key order.
func flatten(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

var _ ports.LoggingGateway = (*ConsoleLogger)(nil)
