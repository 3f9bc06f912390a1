package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/internal/audit"
)

// RegisterWorkspaceCommands adds workspace lifecycle commands to the root.
func RegisterWorkspaceCommands(root *cobra.Command) {
	wsCmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage the cloudgate workspace",
	}

	wsCmd.AddCommand(newWorkspaceCreateCmd())
	wsCmd.AddCommand(newWorkspaceInfoCmd())
	wsCmd.AddCommand(newWorkspaceRemoveCmd())
	wsCmd.AddCommand(newWorkspaceReloadCmd())

	root.AddCommand(wsCmd)
}

func newWorkspaceCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the workspace document (first run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ws, err := app.Workspace.CreateWorkspace()
			if err != nil {
				return fmt.Errorf("creating workspace: %w", err)
			}
			if app.Journal != nil {
				_ = app.Journal.Record(audit.EventWorkspaceCreated, "", nil)
			}

			fmt.Printf("Workspace created.\n")
			fmt.Printf("  ID:   %s\n", ws.ID)
			fmt.Printf("  Path: %s/%s\n", app.Config.WorkspaceDir, app.Workspace.GetWorkspaceFileName())
			return nil
		},
	}
}

func newWorkspaceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show workspace summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ws, err := app.Workspace.GetWorkspace()
			if err != nil {
				return err
			}
			if ws == nil {
				return fmt.Errorf("no workspace; run 'cloudgate workspace create' first")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", ws.ID)
			fmt.Fprintf(w, "Version:\t%s\n", ws.Version)
			fmt.Fprintf(w, "Sessions:\t%d\n", len(ws.Sessions))
			fmt.Fprintf(w, "Profiles:\t%d\n", len(ws.Profiles))
			fmt.Fprintf(w, "Default region:\t%s\n", ws.Settings.DefaultRegion)
			if ws.AwsSso.PortalURL != "" {
				fmt.Fprintf(w, "AWS SSO portal:\t%s (%s)\n", ws.AwsSso.PortalURL, ws.AwsSso.Region)
			}
			if ws.Azure.TenantID != "" {
				fmt.Fprintf(w, "Azure tenant:\t%s\n", ws.Azure.TenantID)
			}
			fmt.Fprintf(w, "Created:\t%s\n", ws.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Updated:\t%s\n", ws.UpdatedAt.Format("2006-01-02 15:04:05"))
			return w.Flush()
		},
	}
}

func newWorkspaceRemoveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the workspace document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("refusing to delete without --force")
			}
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Journal != nil {
				_ = app.Journal.Record(audit.EventWorkspaceRemoved, "", nil)
			}
			if err := app.Workspace.RemoveWorkspace(); err != nil {
				return err
			}
			fmt.Println("Workspace removed.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm deletion")
	return cmd
}

func newWorkspaceReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Discard cached state and re-read the workspace from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Workspace.ReloadWorkspace(); err != nil {
				return err
			}
			fmt.Println("Workspace reloaded.")
			return nil
		},
	}
}
