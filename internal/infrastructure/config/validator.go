package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"fde.dev/ipc/internal/application/ports"
)

// ConfigValidator validates configuration values
type ConfigValidator struct{}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// Validate checks every field and reports all problems at once
func (v *ConfigValidator) Validate(c *Config) error {
	var errs *multierror.Error
	check := func(err error) {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	check(v.ValidatePluginDir(c.PluginDir))
	check(v.ValidateRegistrationTimeout(c.RegistrationTimeout.Seconds()))
	check(v.ValidatePositive("plugins.shutdown_grace", c.ShutdownGrace.Seconds()))
	check(v.ValidateSidecarSuffixes(c.SidecarSuffixes))
	if c.HotReload {
		check(v.ValidateScanInterval(c.ScanInterval.Seconds()))
	}
	check(v.ValidateLogLevel(c.LogLevel))

	return errs.ErrorOrNil()
}

// ValidatePluginDir validates the plugin directory path
func (v *ConfigValidator) ValidatePluginDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("plugins.dir cannot be empty")
	}
	if strings.ContainsRune(dir, 0) {
		return fmt.Errorf("plugins.dir contains a NUL byte")
	}
	return nil
}

// ValidatePositive rejects zero and negative durations
func (v *ConfigValidator) ValidatePositive(key string, seconds float64) error {
	if seconds <= 0 {
		return fmt.Errorf("%s must be positive", key)
	}
	return nil
}

// ValidateRegistrationTimeout requires at least one second
func (v *ConfigValidator) ValidateRegistrationTimeout(seconds float64) error {
	if err := v.ValidatePositive("plugins.registration_timeout", seconds); err != nil {
		return err
	}
	if seconds < 1 {
		return fmt.Errorf("plugins.registration_timeout must be at least 1 second")
	}
	return nil
}

// ValidateScanInterval requires at least one second between polls
func (v *ConfigValidator) ValidateScanInterval(seconds float64) error {
	if seconds < 1 {
		return fmt.Errorf("hotreload.scan_interval must be at least 1 second")
	}
	return nil
}

// ValidateSidecarSuffixes requires every suffix to be an extension
func (v *ConfigValidator) ValidateSidecarSuffixes(suffixes []string) error {
	for _, s := range suffixes {
		if !strings.HasPrefix(s, ".") || len(s) < 2 {
			return fmt.Errorf("plugins.sidecar_suffixes: %q must start with '.'", s)
		}
	}
	return nil
}

// ValidateLogLevel validates the log level
func (v *ConfigValidator) ValidateLogLevel(level string) error {
	if _, err := ports.ParseLogLevel(level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
