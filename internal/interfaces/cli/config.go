package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/infrastructure/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Inspect the configuration file, or read and change the live settings
of a running control plane through org.fde.Compositor.Config.`,
	}

	configCmd.AddCommand(NewConfigShowCommand(container, flags))
	configCmd.AddCommand(NewConfigPathCommand(container, flags))
	configCmd.AddCommand(newConfigGetCommand(container, flags))
	configCmd.AddCommand(newConfigSetCommand(container, flags))
	configCmd.AddCommand(newConfigReloadCommand(container, flags))

	return configCmd
}

// NewConfigShowCommand creates the show subcommand
func NewConfigShowCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configuration on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(container, flags)
			if err != nil {
				return err
			}
			printConfig(cmd, cfg)
			return nil
		},
	}
}

func printConfig(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current Configuration:")
	for _, key := range config.Keys {
		fmt.Fprintf(out, "%s = %s\n", key, displayValue(cfg, key))
	}
}

// NewConfigPathCommand creates the path subcommand
func NewConfigPathCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := container.NewConfigRepository(flags.configPath).GetConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file path: %s\n", path)
			return nil
		},
	}
}

func newConfigGetCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Read a live setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				v, err := client.GetConfigValue(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", args[0], v.Value())
				return nil
			})
		},
	}
}

func newConfigSetCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	var asString bool

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a live setting",
		Long: `Change a setting of the running control plane. VALUE is sent as a
boolean or a 32-bit integer when it parses as one, otherwise as a string.
Use --string to always send a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], parseValue(args[1], asString)
			return withClient(container, flags, func(client BusClient) error {
				ok, err := client.SetConfigValue(cmd.Context(), key, value)
				if err != nil {
					return fmt.Errorf("failed to set %s: %w", key, err)
				}
				if !ok {
					return fmt.Errorf("%s was not updated", key)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asString, "string", false, "Send VALUE as a string")

	return cmd
}

// parseValue picks the wire type for a command-line value
func parseValue(s string, asString bool) interface{} {
	if asString {
		return s
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int32(n)
	}
	return s
}

func newConfigReloadCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the control plane to re-read its configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				ok, err := client.ReloadConfig(cmd.Context())
				if err != nil {
					return fmt.Errorf("reload failed: %w", err)
				}
				if !ok {
					return fmt.Errorf("reload was rejected")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration reloaded")
				return nil
			})
		},
	}
}
