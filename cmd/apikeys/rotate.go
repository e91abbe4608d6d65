package apikeys

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate [public-id]",
	Short: "Rotate an API key's secret",
	Long: `Replaces the key's secret in place. The public ID, team memberships,
and comment are preserved; the previous secret stops working immediately.`,
	Args: cobra.ExactArgs(1),
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

		token, rotatedAt, err := bundle.Service.RotateAPIKey(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate API key: %w", err)
		}

		fmt.Println("API key rotated successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("Public ID: %s\n", args[0])
		fmt.Printf("Key: %s\n", token)
		fmt.Printf("Rotated at: %s\n", rotatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Println("----------------------------------------")
		fmt.Println("Save the key securely. It will not be shown again.")

		return nil
	},
}
