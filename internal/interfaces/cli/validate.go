package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/infrastructure/config"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration file and FDE_* environment overrides,
validate every value and print the effective settings with their source.

The exit status is 0 for a valid configuration and 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, container, flags)
		},
	}
}

// runValidate handles the validation process
func runValidate(cmd *cobra.Command, container *CLIContainer, flags *globalFlags) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Checking configuration... ")

	_, cfg, err := loadConfig(container, flags)
	if err != nil {
		fmt.Fprintln(out, "❌ Failed")
		return err
	}
	fmt.Fprintln(out, "✅ Configuration valid")

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Configuration Summary:")
	fmt.Fprintln(out, "─────────────────────")
	fmt.Fprintf(out, "File: %s\n", cfg.Path)
	for _, key := range config.Keys {
		fmt.Fprintf(out, "%-30s %-24s (%s)\n", key, displayValue(cfg, key), cfg.Source(key))
	}
	return nil
}

func displayValue(cfg *config.Config, key string) string {
	switch key {
	case "plugins.dir":
		return cfg.PluginDir
	case "plugins.registration_timeout":
		return cfg.RegistrationTimeout.String()
	case "plugins.shutdown_grace":
		return cfg.ShutdownGrace.String()
	case "plugins.sidecar_suffixes":
		return strings.Join(cfg.SidecarSuffixes, ",")
	case "hotreload.enabled":
		return fmt.Sprintf("%t", cfg.HotReload)
	case "hotreload.scan_interval":
		return cfg.ScanInterval.String()
	case "log.level":
		return cfg.LogLevel
	default:
		return ""
	}
}
