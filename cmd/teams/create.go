package teams

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var descriptionFlag string

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new team",
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

		team, err := bundle.Service.CreateTeam(ctx, args[0], descriptionFlag)
		if err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}

		fmt.Printf("Team '%s' created\n", team.Name)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&descriptionFlag, "description", "", "Team description")
}
