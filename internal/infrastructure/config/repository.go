package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// Repository resolves the configuration: built-in defaults, then the TOML
// file, then FDE_* environment variables.
type Repository struct {
	configPath string
	files      *FileLoader
	env        *EnvLoader
	validator  *ConfigValidator
}

// NewRepository creates a repository. An empty path selects FDE_CONFIG or
// the default location.
func NewRepository(fs afero.Fs, path string) *Repository {
	env := NewEnvLoader()
	if path == "" {
		path = env.ConfigPath()
	}
	if path == "" {
		path = DefaultPath()
	}
	return &Repository{
		configPath: path,
		files:      NewFileLoader(fs),
		env:        env,
		validator:  NewConfigValidator(),
	}
}

// GetConfigPath returns the file the repository reads
func (r *Repository) GetConfigPath() string {
	return r.configPath
}

// LoadDefault returns the built-in configuration
func (r *Repository) LoadDefault() *Config {
	return Default()
}

// Load resolves and validates the configuration. A missing file is created
// from the defaults first.
func (r *Repository) Load() (*Config, error) {
	path, err := homedir.Expand(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	c := Default()
	c.Path = path

	exists, err := r.files.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if !exists {
		if err := r.files.Write(path, c); err != nil {
			return nil, err
		}
	} else if err := r.files.Load(path, c); err != nil {
		return nil, err
	}

	if err := r.env.Apply(c); err != nil {
		return nil, err
	}

	c.PluginDir, err = homedir.Expand(c.PluginDir)
	if err != nil {
		return nil, fmt.Errorf("resolve plugin directory: %w", err)
	}

	if err := r.validator.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c to the repository's file
func (r *Repository) Save(c *Config) error {
	path, err := homedir.Expand(r.configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := r.validator.Validate(c); err != nil {
		return err
	}
	return r.files.Write(path, c)
}

// DefaultPath is $XDG_CONFIG_HOME/fde/config.toml, falling back to
// ~/.config/fde/config.toml
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fde", "config.toml")
	}
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".config", "fde", "config.toml")
	}
	return filepath.Join(home, ".config", "fde", "config.toml")
}
