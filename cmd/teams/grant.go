package teams

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var grantCmd = &cobra.Command{
	Use:   "grant [team] [permission]",
	Short: "Grant a permission to a team",
	Args:  cobra.ExactArgs(2),
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

		if err := bundle.Service.GrantPermissionToTeam(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to grant permission: %w", err)
		}

		fmt.Printf("Permission '%s' granted to team '%s'\n", args[1], args[0])
		return nil
	},
}
