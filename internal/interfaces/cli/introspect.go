package cli

import (
	"fmt"

	"github.com/godbus/dbus/v5/introspect"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
)

// NewIntrospectCommand creates the introspect command
func NewIntrospectCommand(container *CLIContainer, flags *globalFlags) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Show the interfaces exported by the control plane",
		Long: `Call org.freedesktop.DBus.Introspectable.Introspect on
/org/fde/Compositor and print the result as a tree, or as XML with --xml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(container, flags, func(client BusClient) error {
				if raw {
					xml, err := client.Introspect(cmd.Context())
					if err != nil {
						return fmt.Errorf("introspection failed: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), xml)
					return nil
				}

				node, err := client.IntrospectNode(cmd.Context())
				if err != nil {
					return fmt.Errorf("introspection failed: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderNode(node))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "xml", false, "Print the raw introspection XML")

	return cmd
}

// renderNode draws interfaces with their methods and signals
func renderNode(node *introspect.Node) string {
	root := node.Name
	if root == "" {
		root = "/"
	}
	tree := treeprint.NewWithRoot(root)
	for _, iface := range node.Interfaces {
		branch := tree.AddBranch(iface.Name)
		for _, m := range iface.Methods {
			branch.AddMetaNode("method", m.Name+signature(m.Args))
		}
		for _, s := range iface.Signals {
			branch.AddMetaNode("signal", s.Name+signature(s.Args))
		}
		for _, p := range iface.Properties {
			branch.AddMetaNode("property", fmt.Sprintf("%s %s %s", p.Name, p.Type, p.Access))
		}
	}
	return tree.String()
}

func signature(args []introspect.Arg) string {
	var in, out string
	for _, a := range args {
		if a.Direction == "out" {
			out += a.Type
			continue
		}
		in += a.Type
	}
	if out == "" {
		return "(" + in + ")"
	}
	return "(" + in + ") → " + out
}
