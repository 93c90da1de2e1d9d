package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fde.dev/ipc/internal/infrastructure/plugins/discovery"
)

// NewPluginsCommand creates the plugins command
func NewPluginsCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and register compositor plugins",
		Long: `Inspect the plugin directory and talk to the Plugins interface of a
running control plane.`,
		Example: `  # List the executables the control plane would launch
  fde-ipc plugins list

  # Show the number of registered plugins
  fde-ipc plugins count

  # Register a handler by hand
  fde-ipc plugins register my-input --type input --pid 4242`,
	}

	cmd.AddCommand(newPluginsListCommand(container, flags))
	cmd.AddCommand(newPluginsCountCommand(container, flags))
	cmd.AddCommand(newPluginsSetCountCommand(container, flags))
	cmd.AddCommand(newPluginsRegisterCommand(container, flags))

	return cmd
}

func newPluginsListCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List launchable plugins in the plugin directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(container, flags)
			if err != nil {
				return err
			}

			scanner := discovery.NewFileSystemScanner(container.Fs, cfg.SidecarSuffixes, container.Logger.Named("discovery"))
			candidates, err := scanner.Scan(cfg.PluginDir)
			if err != nil {
				if discovery.IsNotExist(err) {
					fmt.Fprintf(cmd.OutOrStdout(), "Plugin directory %s does not exist.\n", cfg.PluginDir)
					return nil
				}
				return fmt.Errorf("failed to scan %s: %w", cfg.PluginDir, err)
			}

			out := cmd.OutOrStdout()
			if len(candidates) == 0 {
				fmt.Fprintf(out, "No plugins found in %s.\n", cfg.PluginDir)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMODIFIED\tPATH")
			for _, c := range candidates {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.ModTime.Format(time.RFC3339), c.Path)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d plugin(s) in %s\n", len(candidates), cfg.PluginDir)
			return nil
		},
	}
}

func newPluginsCountCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the plugins_num property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				n, err := client.PluginCount(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to read plugins_num: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newPluginsSetCountCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-count N",
		Short: "Write the plugins_num property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid count %q: %w", args[0], err)
			}
			return withClient(container, flags, func(client BusClient) error {
				ok, err := client.SetProperty(cmd.Context(), "plugins_num", int32(n))
				if err != nil {
					return fmt.Errorf("failed to set plugins_num: %w", err)
				}
				if !ok {
					return fmt.Errorf("plugins_num was not updated")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plugins_num = %d\n", n)
				return nil
			})
		},
	}
}

func newPluginsRegisterCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	var (
		handlerType string
		pid         int32
	)

	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Call RegisterPlugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				ok, err := client.RegisterPlugin(cmd.Context(), args[0], handlerType, pid)
				if err != nil {
					return fmt.Errorf("failed to register %s: %w", args[0], err)
				}
				if !ok {
					return fmt.Errorf("registration of %s was rejected", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s, pid %d)\n", args[0], handlerType, pid)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&handlerType, "type", "input", "Handler type (input, rendering, protocols)")
	cmd.Flags().Int32Var(&pid, "pid", 0, "Process id to report")

	return cmd
}
