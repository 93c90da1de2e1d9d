// Package config loads the control plane's TOML configuration file, overlays
// FDE_* environment variables and validates the result.
package config

import (
	"time"

	"fde.dev/ipc/internal/application/controlplane"
)

// Defaults mirror the template written on first start.
const (
	DefaultPluginDir           = "~/.config/fde/plugins/"
	DefaultRegistrationTimeout = 10 * time.Second
	DefaultShutdownGrace       = 3 * time.Second
	DefaultScanInterval        = 5 * time.Second
	DefaultLogLevel            = "error"
)

// Config is the resolved configuration
type Config struct {
	PluginDir           string
	RegistrationTimeout time.Duration
	ShutdownGrace       time.Duration
	SidecarSuffixes     []string

	HotReload    bool
	ScanInterval time.Duration

	LogLevel string

	// Path is the file the configuration was read from
	Path string
	// Sources records where each key's value came from: "default", "file" or
	// the environment variable name.
	Sources map[string]string
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		PluginDir:           DefaultPluginDir,
		RegistrationTimeout: DefaultRegistrationTimeout,
		ShutdownGrace:       DefaultShutdownGrace,
		SidecarSuffixes:     []string{".conf"},
		HotReload:           true,
		ScanInterval:        DefaultScanInterval,
		LogLevel:            DefaultLogLevel,
		Sources:             make(map[string]string),
	}
}

// Settings converts the configuration to control plane settings
func (c *Config) Settings() controlplane.Settings {
	return controlplane.Settings{
		PluginDir:           c.PluginDir,
		RegistrationTimeout: c.RegistrationTimeout,
		ShutdownGrace:       c.ShutdownGrace,
		HotReload:           c.HotReload,
		ScanInterval:        c.ScanInterval,
		SidecarSuffixes:     append([]string(nil), c.SidecarSuffixes...),
	}
}

// Source returns where key's value came from
func (c *Config) Source(key string) string {
	if s, ok := c.Sources[key]; ok {
		return s
	}
	return "default"
}

func (c *Config) setSource(key, source string) {
	if c.Sources == nil {
		c.Sources = make(map[string]string)
	}
	c.Sources[key] = source
}

// Keys lists the configuration keys in display order
var Keys = []string{
	"plugins.dir",
	"plugins.registration_timeout",
	"plugins.shutdown_grace",
	"plugins.sidecar_suffixes",
	"hotreload.enabled",
	"hotreload.scan_interval",
	"log.level",
}
