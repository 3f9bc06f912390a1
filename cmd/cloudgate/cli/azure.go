package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
)

// RegisterAzureCommands adds Azure tenant commands to the root.
func RegisterAzureCommands(root *cobra.Command) {
	azCmd := &cobra.Command{
		Use:   "azure",
		Short: "Azure tenant federation",
	}

	azCmd.AddCommand(newAzureConfigureCmd())
	azCmd.AddCommand(newAzureSyncCmd())
	azCmd.AddCommand(newAzureLogoutCmd())

	root.AddCommand(azCmd)
}

func newAzureConfigureCmd() *cobra.Command {
	var (
		tenantID string
		location string
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the Azure tenant coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant-id is required")
			}
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Workspace.SetAzureConfiguration(core.AzureConfiguration{
				TenantID: tenantID,
				Location: location,
			}); err != nil {
				return err
			}
			fmt.Printf("Azure tenant configured: %s\n", tenantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Azure AD tenant (required)")
	cmd.Flags().StringVar(&location, "location", "", "Default location for sessions")
	return cmd
}

func newAzureSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Authenticate and synchronize the visible subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			statusCh, cancelSub := app.Bus.Subscribe(events.TopicSsoStatus, 8)
			defer cancelSub()
			go func() {
				for ev := range statusCh {
					if p, ok := ev.Payload.(events.SsoStatusPayload); ok && p.VerificationURL != "" {
						fmt.Printf("Authorize this device: %s (code %s)\n", p.VerificationURL, p.UserCode)
					}
				}
			}()

			descriptors, err := app.Manager.Sync(ctx, core.KindAzure)
			if err != nil {
				return err
			}
			fmt.Printf("Synchronized %d subscriptions.\n", len(descriptors))
			return nil
		},
	}
}

func newAzureLogoutCmd() *cobra.Command {
	var lock bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Discard the Azure credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Azure.Logout(cmd.Context(), lock); err != nil {
				return err
			}
			fmt.Println("Logged out of Azure.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&lock, "lock", false, "Mark Azure sessions locked")
	return cmd
}
