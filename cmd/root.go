package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/apikeys"
	"github.com/warden-auth/warden/cmd/teams"
	"github.com/warden-auth/warden/cmd/users"
	"github.com/warden-auth/warden/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden authentication and authorization service",
	Long: `Warden provides centralized authentication and authorization.
It authenticates managed users, directory users, OpenID Connect identities,
and API keys, and authorizes requests against team-held permissions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().String("server-url", "", "Server base URL for SSO redirects (env: SERVER_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")

	// Add subcommands
	rootCmd.AddCommand(apikeys.APIKeysCmd)
	rootCmd.AddCommand(users.UsersCmd)
	rootCmd.AddCommand(teams.TeamsCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
