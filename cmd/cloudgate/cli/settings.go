package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/internal/core"
)

// RegisterSettingsCommands adds workspace-settings commands to the root.
func RegisterSettingsCommands(root *cobra.Command) {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change workspace settings",
	}

	settingsCmd.AddCommand(newSettingsShowCmd())
	settingsCmd.AddCommand(newSettingsSetCmd())

	root.AddCommand(settingsCmd)
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show workspace settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			settings, err := app.Workspace.ExtractGlobalSettings()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Default region:\t%s\n", settings.DefaultRegion)
			fmt.Fprintf(w, "Browser opening:\t%s\n", settings.BrowserOpening)
			if settings.Proxy.URL != "" {
				fmt.Fprintf(w, "Proxy:\t%s://%s:%d\n", settings.Proxy.Protocol, settings.Proxy.URL, settings.Proxy.Port)
			} else {
				fmt.Fprintf(w, "Proxy:\tnone\n")
			}
			return w.Flush()
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		defaultRegion string
		browser       string
		proxyProtocol string
		proxyURL      string
		proxyPort     int
		proxyUser     string
		clearProxy    bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change workspace settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer app.Close()

			settings, err := app.Workspace.ExtractGlobalSettings()
			if err != nil {
				return err
			}

			if defaultRegion != "" {
				settings.DefaultRegion = defaultRegion
			}
			if browser != "" {
				opening := core.BrowserOpening(browser)
				if opening != core.BrowserOpeningExternal && opening != core.BrowserOpeningInApp {
					return fmt.Errorf("invalid --browser: %s", browser)
				}
				settings.BrowserOpening = opening
			}
			if clearProxy {
				settings.Proxy = core.ProxyConfiguration{}
			} else if proxyURL != "" {
				settings.Proxy = core.ProxyConfiguration{
					Protocol: proxyProtocol,
					URL:      proxyURL,
					Port:     proxyPort,
					Username: proxyUser,
				}
			}

			if err := app.Workspace.ApplyGlobalSettings(settings); err != nil {
				return err
			}
			fmt.Println("Settings updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&defaultRegion, "default-region", "", "Default region for new sessions")
	cmd.Flags().StringVar(&browser, "browser", "", "Authorization URL handling: external or in_app")
	cmd.Flags().StringVar(&proxyProtocol, "proxy-protocol", "https", "Proxy protocol")
	cmd.Flags().StringVar(&proxyURL, "proxy-url", "", "Proxy host")
	cmd.Flags().IntVar(&proxyPort, "proxy-port", 8080, "Proxy port")
	cmd.Flags().StringVar(&proxyUser, "proxy-user", "", "Proxy username")
	cmd.Flags().BoolVar(&clearProxy, "clear-proxy", false, "Remove the proxy configuration")
	return cmd
}
