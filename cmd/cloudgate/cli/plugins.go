package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// RegisterPluginCommands adds plugin commands to the root.
func RegisterPluginCommands(root *cobra.Command) {
	pluginCmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "List and run plugins",
	}

	pluginCmd.AddCommand(newPluginListCmd())
	pluginCmd.AddCommand(newPluginRunCmd())

	root.AddCommand(pluginCmd)
}

func newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			metas := app.Plugins.List()
			if len(metas) == 0 {
				fmt.Println("No plugins registered.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tNAME\tDESCRIPTION")
			for _, m := range metas {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Version, m.Name, m.Description)
			}
			return w.Flush()
		},
	}
}

func newPluginRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <plugin-id> <session-id> [-- plugin args]",
		Short: "Run a plugin against a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			sessionID, err := resolveSessionID(app, args[1])
			if err != nil {
				return err
			}
			return app.Plugins.Run(cmd.Context(), args[0], sessionID, args[2:])
		},
	}
}
