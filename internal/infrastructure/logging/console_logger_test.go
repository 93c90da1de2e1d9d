package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"fde.dev/ipc/internal/application/ports"
)

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelWarn)

	logger.Log(ports.LogLevelInfo, "hidden", nil)
	logger.Log(ports.LogLevelWarn, "plugin timed out", map[string]interface{}{"plugin": "p", "pid": 42})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "plugin timed out")
	assert.Contains(t, out, "plugin=p")
	assert.Contains(t, out, "pid=42")
}

func TestConsoleLogger_SetLogLevelAffectsNamed(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelError)
	sub := logger.Named("supervisor")

	sub.Log(ports.LogLevelDebug, "before", nil)
	logger.SetLogLevel(ports.LogLevelDebug)
	sub.Log(ports.LogLevelDebug, "after", nil)

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "fde-ipc.supervisor")
	assert.Contains(t, buf.String(), "after")
	assert.Equal(t, ports.LogLevelDebug, logger.GetLogLevel())
}

func TestConsoleLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, ports.LogLevelError)

	logger.LogError(errors.New("name taken"), "bus name not acquired", map[string]interface{}{"name": "org.fde.Compositor"})

	assert.Contains(t, buf.String(), "bus name not acquired")
	assert.Contains(t, buf.String(), "name taken")
}

func TestFlatten_SortedKeys(t *testing.T) {
	args := flatten(map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, []interface{}{"a", 1, "b", 2}, args)
	assert.Nil(t, flatten(nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    ports.LogLevel
		wantErr bool
	}{
		{"debug", ports.LogLevelDebug, false},
		{" INFO ", ports.LogLevelInfo, false},
		{"warning", ports.LogLevelWarn, false},
		{"error", ports.LogLevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ports.ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
