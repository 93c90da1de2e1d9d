package cli

import (
	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/application/ports"
)

// NewServeCommand creates the serve command
func NewServeCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane (the default command)",
		Long: `Claim org.fde.Compositor on the bus, launch every plugin in the
configured directory and serve RegisterPlugin, GetProperty, SetProperty,
Introspect and the Config interface until interrupted.

On SIGINT or SIGTERM every plugin receives SIGTERM, followed by SIGKILL if it
is still running after the shutdown grace period.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, container, flags)
		},
	}
}

func runServe(cmd *cobra.Command, container *CLIContainer, flags *globalFlags) error {
	repo, cfg, err := loadConfig(container, flags)
	if err != nil {
		return err
	}

	container.Logger.Log(ports.LogLevelInfo, "Starting control plane", map[string]interface{}{
		"config":     cfg.Path,
		"plugin_dir": cfg.PluginDir,
		"timeout":    cfg.RegistrationTimeout.String(),
		"hot_reload": cfg.HotReload,
	})
	return container.RunControlPlane(cmd.Context(), repo, cfg, flags.busAddress)
}
