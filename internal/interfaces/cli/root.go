package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/application/ports"
	"fde.dev/ipc/internal/infrastructure/bus"
	"fde.dev/ipc/internal/infrastructure/config"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// BusClient is the subset of the bus client the commands use
type BusClient interface {
	RegisterPlugin(ctx context.Context, name, handlerType string, pid int32) (bool, error)
	PluginCount(ctx context.Context) (int32, error)
	SetProperty(ctx context.Context, name string, value interface{}) (bool, error)
	Introspect(ctx context.Context) (string, error)
	IntrospectNode(ctx context.Context) (*introspect.Node, error)
	GetConfigValue(ctx context.Context, key string) (dbus.Variant, error)
	SetConfigValue(ctx context.Context, key string, value interface{}) (bool, error)
	ReloadConfig(ctx context.Context) (bool, error)
	SubscribeRegistered(ctx context.Context) (<-chan bus.RegisteredEvent, error)
	Close() error
}

// CLIContainer holds all the dependencies for CLI commands
type CLIContainer struct {
	Logger ports.LoggingGateway
	Fs     afero.Fs

	// NewConfigRepository opens the configuration at path (empty for the default)
	NewConfigRepository func(path string) *config.Repository

	// RunControlPlane serves the bus until ctx ends
	RunControlPlane func(ctx context.Context, repo *config.Repository, cfg *config.Config, busAddress string) error

	// Dial connects a client to a running control plane
	Dial func(address string) (BusClient, error)

	MainContainer interface{} // Will be set to *di.Container, avoiding circular import
}

// globalFlags are the persistent flags shared by every command
type globalFlags struct {
	configPath string
	busAddress string
	debug      bool
	verbose    bool
	validate   bool
}

// NewRootCommand RootCommand represents the base command when called without any subcommands
func NewRootCommand(container *CLIContainer) *cobra.Command {
	flags := &globalFlags{}

	var rootCmd = &cobra.Command{
		Use:   "fde-ipc",
		Short: "FDE compositor IPC control plane",
		Long: `fde-ipc runs the compositor's bus control plane: it claims
org.fde.Compositor on the session bus, launches the executables found in the
plugin directory and waits for each of them to register.

Without a subcommand it serves until interrupted. The other commands talk to
a running instance over the bus.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyVerbosity(container.Logger, flags)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.validate {
				return runValidate(cmd, container, flags)
			}
			return runServe(cmd, container, flags)
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (default is $XDG_CONFIG_HOME/fde/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flags.busAddress, "bus", "", "Bus address (default is the session bus)")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "V", false, "Enable informational logging")
	rootCmd.Flags().BoolVarP(&flags.validate, "validate", "C", false, "Validate the configuration and exit")

	rootCmd.AddCommand(NewServeCommand(container, flags))
	rootCmd.AddCommand(NewValidateCommand(container, flags))
	rootCmd.AddCommand(NewPluginsCommand(container, flags))
	rootCmd.AddCommand(NewIntrospectCommand(container, flags))
	rootCmd.AddCommand(NewConfigCommand(container, flags))
	rootCmd.AddCommand(NewWatchCommand(container, flags))

	return rootCmd
}

// applyVerbosity maps -d and -V onto the log level; without either the
// configured level applies once the config is loaded.
func applyVerbosity(logger ports.LoggingGateway, flags *globalFlags) {
	switch {
	case flags.debug:
		logger.SetLogLevel(ports.LogLevelDebug)
	case flags.verbose:
		logger.SetLogLevel(ports.LogLevelInfo)
	}
}

// loadConfig opens the repository selected by --config and applies its log
// level unless a verbosity flag was given.
func loadConfig(container *CLIContainer, flags *globalFlags) (*config.Repository, *config.Config, error) {
	repo := container.NewConfigRepository(flags.configPath)
	cfg, err := repo.Load()
	if err != nil {
		return repo, nil, fmt.Errorf("failed to load configuration from %s: %w", repo.GetConfigPath(), err)
	}
	if !flags.debug && !flags.verbose {
		if level, err := ports.ParseLogLevel(cfg.LogLevel); err == nil {
			container.Logger.SetLogLevel(level)
		}
	}
	return repo, cfg, nil
}

// withClient dials the control plane for the duration of fn
func withClient(container *CLIContainer, flags *globalFlags, fn func(client BusClient) error) error {
	client, err := container.Dial(flags.busAddress)
	if err != nil {
		return fmt.Errorf("failed to connect to the bus: %w", err)
	}
	defer client.Close()
	return fn(client)
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// ExecuteContext runs the command tree with args from os.Args and returns the
// process exit code.
func ExecuteContext(ctx context.Context, container *CLIContainer, stderr io.Writer) int {
	rootCmd := NewRootCommand(container)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
