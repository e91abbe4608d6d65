package users

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend [username]",
	Short: "Suspend a user",
	Long:  `Marks the user suspended. All authentication paths reject suspended accounts, including valid tokens issued earlier.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSuspended(args[0], true)
	},
}

var unsuspendCmd = &cobra.Command{
	Use:   "unsuspend [username]",
	Short: "Lift a user's suspension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSuspended(args[0], false)
	},
}

func setSuspended(username string, suspended bool) error {
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

	if err := bundle.Service.SetUserSuspended(ctx, username, suspended); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if suspended {
		fmt.Printf("User '%s' suspended\n", username)
	} else {
		fmt.Printf("User '%s' unsuspended\n", username)
	}
	return nil
}
