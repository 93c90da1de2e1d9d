package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml"
	"github.com/spf13/afero"
)

// document is the on-disk layout of config.toml
type document struct {
	Plugins   pluginsSection   `toml:"plugins"`
	HotReload hotReloadSection `toml:"hotreload"`
	Log       logSection       `toml:"log"`
}

type pluginsSection struct {
	Dir                 string   `toml:"dir" comment:"Directory scanned for plugin executables"`
	RegistrationTimeout string   `toml:"registration_timeout" comment:"How long a spawned plugin has to call RegisterPlugin"`
	ShutdownGrace       string   `toml:"shutdown_grace" comment:"Wait after SIGTERM before SIGKILL"`
	SidecarSuffixes     []string `toml:"sidecar_suffixes" comment:"Files with these suffixes are plugin configuration, not executables"`
}

type hotReloadSection struct {
	Enabled      bool  `toml:"enabled" comment:"Launch plugins added to the directory while running"`
	ScanInterval int64 `toml:"scan_interval" comment:"Polling interval in seconds when the directory cannot be watched"`
}

type logSection struct {
	Level string `toml:"level" comment:"debug, info, warn or error"`
}

func toDocument(c *Config) document {
	return document{
		Plugins: pluginsSection{
			Dir:                 c.PluginDir,
			RegistrationTimeout: c.RegistrationTimeout.String(),
			ShutdownGrace:       c.ShutdownGrace.String(),
			SidecarSuffixes:     c.SidecarSuffixes,
		},
		HotReload: hotReloadSection{
			Enabled:      c.HotReload,
			ScanInterval: int64(c.ScanInterval / time.Second),
		},
		Log: logSection{Level: c.LogLevel},
	}
}

// FileLoader reads and writes config.toml
type FileLoader struct {
	fs afero.Fs
}

// NewFileLoader creates a loader over fs
func NewFileLoader(fs afero.Fs) *FileLoader {
	return &FileLoader{fs: fs}
}

// Exists reports whether path is present
func (l *FileLoader) Exists(path string) (bool, error) {
	return afero.Exists(l.fs, path)
}

// Write stores c at path, creating the parent directory
func (l *FileLoader) Write(path string, c *Config) error {
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	encoded, err := toml.Marshal(toDocument(c))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := afero.WriteFile(l.fs, path, encoded, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load applies the keys present in path on top of c. Unknown keys are
// ignored; a key with the wrong type is an error.
func (l *FileLoader) Load(path string, c *Config) error {
	contents, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	tree, err := toml.LoadBytes(contents)
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	var errs *multierror.Error
	apply := func(key string, set func(v interface{}) error) {
		if !tree.Has(key) {
			return
		}
		if err := set(tree.Get(key)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		c.setSource(key, "file")
	}

	apply("plugins.dir", func(v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return typeError("string", v)
		}
		c.PluginDir = s
		return nil
	})
	apply("plugins.registration_timeout", func(v interface{}) (err error) {
		c.RegistrationTimeout, err = toDuration(v)
		return err
	})
	apply("plugins.shutdown_grace", func(v interface{}) (err error) {
		c.ShutdownGrace, err = toDuration(v)
		return err
	})
	apply("plugins.sidecar_suffixes", func(v interface{}) error {
		list, ok := v.([]interface{})
		if !ok {
			if strs, isStrings := v.([]string); isStrings {
				c.SidecarSuffixes = strs
				return nil
			}
			return typeError("array of strings", v)
		}
		suffixes := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return typeError("array of strings", v)
			}
			suffixes = append(suffixes, s)
		}
		c.SidecarSuffixes = suffixes
		return nil
	})
	apply("hotreload.enabled", func(v interface{}) error {
		b, ok := v.(bool)
		if !ok {
			return typeError("boolean", v)
		}
		c.HotReload = b
		return nil
	})
	apply("hotreload.scan_interval", func(v interface{}) (err error) {
		c.ScanInterval, err = toDuration(v)
		return err
	})
	apply("log.level", func(v interface{}) error {
		s, ok := v.(string)
		if !ok {
			return typeError("string", v)
		}
		c.LogLevel = s
		return nil
	})

	return errs.ErrorOrNil()
}

// toDuration accepts a Go duration string or a whole number of seconds
func toDuration(v interface{}) (time.Duration, error) {
	switch val := v.(type) {
	case int64:
		return time.Duration(val) * time.Second, nil
	case string:
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", val)
		}
		return d, nil
	default:
		return 0, typeError("duration", v)
	}
}

func typeError(want string, got interface{}) error {
	return fmt.Errorf("expected %s, got %T", want, got)
}
