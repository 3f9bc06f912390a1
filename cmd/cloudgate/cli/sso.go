package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/internal/audit"
	"github.com/cloudgate-framework/cloudgate/internal/core"
	"github.com/cloudgate-framework/cloudgate/internal/events"
)

// RegisterSsoCommands adds AWS SSO federation commands to the root.
func RegisterSsoCommands(root *cobra.Command) {
	ssoCmd := &cobra.Command{
		Use:   "sso",
		Short: "AWS IAM Identity Center federation",
	}

	ssoCmd.AddCommand(newSsoConfigureCmd())
	ssoCmd.AddCommand(newSsoLoginCmd())
	ssoCmd.AddCommand(newSsoLogoutCmd())
	ssoCmd.AddCommand(newSsoStatusCmd())

	root.AddCommand(ssoCmd)
}

func newSsoConfigureCmd() *cobra.Command {
	var (
		portalURL string
		region    string
		browser   string
	)
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the SSO portal coordinates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if portalURL == "" || region == "" {
				return fmt.Errorf("--portal-url and --region are required")
			}
			opening := core.BrowserOpening(browser)
			switch opening {
			case "", core.BrowserOpeningExternal, core.BrowserOpeningInApp:
			default:
				return fmt.Errorf("invalid --browser: %s", browser)
			}

			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			cfg, err := app.Workspace.GetAwsSsoConfiguration()
			if err != nil {
				return err
			}
			cfg.PortalURL = portalURL
			cfg.Region = region
			cfg.BrowserOpening = opening
			if err := app.Workspace.SetAwsSsoConfiguration(cfg); err != nil {
				return err
			}
			fmt.Printf("SSO portal configured: %s (%s)\n", portalURL, region)
			return nil
		},
	}
	cmd.Flags().StringVar(&portalURL, "portal-url", "", "SSO start URL (required)")
	cmd.Flags().StringVar(&region, "region", "", "SSO portal region (required)")
	cmd.Flags().StringVar(&browser, "browser", "", "Authorization URL handling: external or in_app")
	return cmd
}

func newSsoLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "login",
		Aliases: []string{"sync"},
		Short:   "Federate and synchronize the assignable roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			// Ctrl-C interrupts the browser wait deterministically.
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

			descriptors, err := app.Manager.Sync(ctx, core.KindAwsSsoRole)
			if err != nil {
				if errors.Is(err, core.ErrInterrupted) {
					return fmt.Errorf("login interrupted")
				}
				return err
			}
			if app.Journal != nil {
				_ = app.Journal.Record(audit.EventSsoLogin, "", map[string]int{"roles": len(descriptors)})
			}

			fmt.Printf("Synchronized %d roles.\n", len(descriptors))
			return nil
		},
	}
}

func newSsoLogoutCmd() *cobra.Command {
	var lock bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the federation token",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.SSO.Logout(cmd.Context(), lock); err != nil {
				return err
			}
			if app.Journal != nil {
				_ = app.Journal.Record(audit.EventSsoLogout, "", map[string]bool{"lock": lock})
			}
			if lock {
				fmt.Println("Logged out; SSO sessions locked until the next login.")
			} else {
				fmt.Println("Logged out.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&lock, "lock", false, "Mark SSO sessions locked instead of leaving them usable")
	return cmd
}

func newSsoStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show federation status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			cfg, err := app.Workspace.GetAwsSsoConfiguration()
			if err != nil {
				return err
			}
			if cfg.PortalURL == "" {
				fmt.Println("SSO is not configured.")
				return nil
			}
			fmt.Printf("Portal: %s (%s)\n", cfg.PortalURL, cfg.Region)
			if app.SSO.AwsSsoActive() {
				fmt.Printf("Status: active, token expires %s\n", cfg.ExpirationTime.Format("2006-01-02 15:04:05 MST"))
			} else {
				fmt.Println("Status: inactive; run 'cloudgate sso login'")
			}
			return nil
		},
	}
}
