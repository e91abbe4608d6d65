package apikeys

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
)

var (
	commentFlag string
	teamsFlag   []string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
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

		key, token, err := bundle.Service.CreateAPIKey(ctx, commentFlag, auth.SystemUserID, teamsFlag)
		if err != nil {
			return fmt.Errorf("failed to create API key: %w", err)
		}

		fmt.Println("API key created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("Public ID: %s\n", key.PublicID)
		fmt.Printf("Key: %s\n", token)
		fmt.Println("----------------------------------------")
		fmt.Println("Save the key securely. It will not be shown again.")

		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&commentFlag, "comment", "", "Free-text note identifying the key's purpose")
	createCmd.Flags().StringSliceVar(&teamsFlag, "team", nil, "Team to join the key to (repeatable)")
}
