package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EnvLoader overlays FDE_* environment variables
type EnvLoader struct {
	lookup func(string) (string, bool)
}

// NewEnvLoader reads the process environment
func NewEnvLoader() *EnvLoader { return &EnvLoader{lookup: os.LookupEnv} }

// Apply overrides the fields of c whose variables are set and non-empty
func (l *EnvLoader) Apply(c *Config) error {
	var errs *multierror.Error
	add := func(env, key string, set func(string) error) {
		v, ok := l.lookup(env)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", env, err))
			return
		}
		c.setSource(key, env)
	}

	add("FDE_PLUGINS_DIR", "plugins.dir", func(s string) error { c.PluginDir = s; return nil })
	add("FDE_REGISTRATION_TIMEOUT", "plugins.registration_timeout", func(s string) (err error) {
		c.RegistrationTimeout, err = parseEnvDuration(s)
		return err
	})
	add("FDE_SHUTDOWN_GRACE", "plugins.shutdown_grace", func(s string) (err error) {
		c.ShutdownGrace, err = parseEnvDuration(s)
		return err
	})
	add("FDE_HOTRELOAD", "hotreload.enabled", func(s string) (err error) {
		c.HotReload, err = strconv.ParseBool(s)
		return err
	})
	add("FDE_SCAN_INTERVAL", "hotreload.scan_interval", func(s string) (err error) {
		c.ScanInterval, err = parseEnvDuration(s)
		return err
	})
	add("FDE_LOG_LEVEL", "log.level", func(s string) error { c.LogLevel = s; return nil })

	return errs.ErrorOrNil()
}

// ConfigPath returns FDE_CONFIG if set
func (l *EnvLoader) ConfigPath() string {
	v, _ := l.lookup("FDE_CONFIG")
	return strings.TrimSpace(v)
}

// parseEnvDuration accepts a bare number of seconds or a Go duration string
func parseEnvDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return toDuration(s)
}
