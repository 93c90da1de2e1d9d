package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"fde.dev/ipc/internal/application/controlplane"
	"fde.dev/ipc/internal/application/ports"
	"fde.dev/ipc/internal/infrastructure/bus"
	"fde.dev/ipc/internal/infrastructure/config"
	"fde.dev/ipc/internal/infrastructure/logging"
	"fde.dev/ipc/internal/infrastructure/process"
	"fde.dev/ipc/internal/interfaces/cli"
)

// Container holds all application dependencies
type Container struct {
	// Infrastructure
	Fs        afero.Fs
	Processes *process.Executor

	// CLI
	CLIContainer *cli.CLIContainer

	// Logger
	Logger *logging.ConsoleLogger

	connect func(ctx context.Context, opts bus.Options, logger ports.LoggingGateway) (controlplane.Transport, error)
}

// NewContainer creates and configures the dependency injection container
func NewContainer() (*Container, error) {
	return NewContainerWithOutput(os.Stderr, afero.NewOsFs())
}

// NewContainerWithOutput builds a container that logs to out and reads
// configuration and plugins from fs.
func NewContainerWithOutput(out io.Writer, fs afero.Fs) (*Container, error) {
	if out == nil || fs == nil {
		return nil, errors.New("container needs a log writer and a filesystem")
	}

	container := &Container{
		Fs:     fs,
		Logger: logging.NewConsoleLogger(out, ports.LogLevelError),
		connect: func(ctx context.Context, opts bus.Options, logger ports.LoggingGateway) (controlplane.Transport, error) {
			transport, err := bus.Connect(ctx, opts, logger)
			if err != nil {
				return nil, err
			}
			return transport, nil
		},
	}
	container.initializeComponents()
	return container, nil
}

// initializeComponents initializes all components with proper dependencies
func (c *Container) initializeComponents() {
	c.Processes = process.NewExecutor(c.Logger.Named("process"))

	c.CLIContainer = &cli.CLIContainer{
		Logger: c.Logger,
		Fs:     c.Fs,
		NewConfigRepository: func(path string) *config.Repository {
			return config.NewRepository(c.Fs, path)
		},
		RunControlPlane: c.RunControlPlane,
		Dial: func(address string) (cli.BusClient, error) {
			client, err := bus.Dial(address)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		MainContainer: c,
	}
}

// GetCLIContainer returns the CLI container for command execution
func (c *Container) GetCLIContainer() *cli.CLIContainer {
	return c.CLIContainer
}

// RunControlPlane connects to the bus, claims the service name and serves
// until ctx ends or the connection is lost.
func (c *Container) RunControlPlane(ctx context.Context, repo *config.Repository, cfg *config.Config, busAddress string) error {
	opts := bus.DefaultOptions()
	opts.Address = busAddress

	transport, err := c.connect(ctx, opts, c.Logger.Named("bus"))
	if err != nil {
		return fmt.Errorf("failed to connect to the bus: %w", err)
	}

	cp, err := controlplane.New(cfg.Settings(), controlplane.Dependencies{
		Transport: transport,
		Processes: c.Processes.WithBusAddress(busAddress),
		Fs:        c.Fs,
		Logger:    c.Logger.Named("controlplane"),
		Reload: func() (controlplane.Settings, error) {
			reloaded, err := repo.Load()
			if err != nil {
				return controlplane.Settings{}, err
			}
			return reloaded.Settings(), nil
		},
	})
	if err != nil {
		_ = transport.Close()
		return fmt.Errorf("failed to build control plane: %w", err)
	}

	return cp.Run(ctx)
}

// Shutdown flushes the logger; the control plane stops its plugins itself
// when its context ends.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Logger.Log(ports.LogLevelInfo, "Shutting down", nil)
	return nil
}

// GetVersion returns version information
func (c *Container) GetVersion() map[string]string {
	return map[string]string{
		"version":    cli.Version,
		"build_time": cli.BuildTime,
	}
}
