package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidator_Validate(t *testing.T) {
	validator := NewConfigValidator()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty_plugin_dir",
			mutate:  func(c *Config) { c.PluginDir = "  " },
			wantErr: true,
			errMsg:  "plugins.dir cannot be empty",
		},
		{
			name:    "zero_registration_timeout",
			mutate:  func(c *Config) { c.RegistrationTimeout = 0 },
			wantErr: true,
			errMsg:  "plugins.registration_timeout must be positive",
		},
		{
			name:    "sub_second_registration_timeout",
			mutate:  func(c *Config) { c.RegistrationTimeout = 500 * time.Millisecond },
			wantErr: true,
			errMsg:  "plugins.registration_timeout must be at least 1 second",
		},
		{
			name:   "sub_second_shutdown_grace_allowed",
			mutate: func(c *Config) { c.ShutdownGrace = 500 * time.Millisecond },
		},
		{
			name:    "negative_shutdown_grace",
			mutate:  func(c *Config) { c.ShutdownGrace = -time.Second },
			wantErr: true,
			errMsg:  "plugins.shutdown_grace must be positive",
		},
		{
			name:    "scan_interval_below_one_second",
			mutate:  func(c *Config) { c.ScanInterval = 500 * time.Millisecond },
			wantErr: true,
			errMsg:  "hotreload.scan_interval",
		},
		{
			name: "scan_interval_ignored_without_hot_reload",
			mutate: func(c *Config) {
				c.HotReload = false
				c.ScanInterval = 0
			},
		},
		{
			name:    "suffix_without_dot",
			mutate:  func(c *Config) { c.SidecarSuffixes = []string{"conf"} },
			wantErr: true,
			errMsg:  "must start with '.'",
		},
		{
			name:    "unknown_log_level",
			mutate:  func(c *Config) { c.LogLevel = "chatty" },
			wantErr: true,
			errMsg:  "log.level",
		},
		{
			name:   "warning_alias",
			mutate: func(c *Config) { c.LogLevel = "WARNING" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := validator.Validate(c)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigValidator_ReportsEveryProblem(t *testing.T) {
	c := Default()
	c.PluginDir = ""
	c.RegistrationTimeout = 0
	c.LogLevel = "loud"

	err := NewConfigValidator().Validate(c)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "plugins.dir")
	assert.Contains(t, err.Error(), "plugins.registration_timeout")
	assert.Contains(t, err.Error(), "log.level")
}
