// cloudgate — ephemeral cloud credential manager.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudgate-framework/cloudgate/cmd/cloudgate/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cloudgate",
		Short: "cloudgate — ephemeral cloud credential manager",
		Long: `cloudgate manages short-lived cloud credentials across AWS and Azure.
It federates through AWS IAM Identity Center or Azure device-code login,
materializes the discovered accounts and roles as sessions, and keeps all
secret material in the OS secure store — never in plaintext files.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Register command groups
	cli.RegisterWorkspaceCommands(rootCmd)
	cli.RegisterSettingsCommands(rootCmd)
	cli.RegisterSsoCommands(rootCmd)
	cli.RegisterAzureCommands(rootCmd)
	cli.RegisterSessionCommands(rootCmd)
	cli.RegisterGroupingCommands(rootCmd)
	cli.RegisterPluginCommands(rootCmd)
	cli.RegisterJournalCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
