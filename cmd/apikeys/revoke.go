package apikeys

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke [public-id]",
	Short: "Revoke an API key",
	Long:  `Deletes the key. Requests presenting it fail from the next cache refresh at the latest.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx := context.Background()
		bundle, err := cmdutil.NewIAMServiceBundle(ctx, cfg)
		if err != nil {
			return err
		}
		defer bundle.Close(ctx)

		if err := bundle.Service.RevokeAPIKey(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to revoke API key: %w", err)
		}

		fmt.Printf("API key '%s' revoked\n", args[0])
		return nil
	},
}
