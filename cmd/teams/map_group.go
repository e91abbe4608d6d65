package teams

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/auth"
	"github.com/warden-auth/warden/internal/config"
)

var providerFlag string

var mapGroupCmd = &cobra.Command{
	Use:   "map-group [team] [group]",
	Short: "Bind an external group to a team",
	Long: `Binds a directory group DN or provider group name to a team. Users
asserted as members of the group join the team on their next login when
team synchronization is enabled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var provider auth.IdentityProvider
		switch providerFlag {
		case "ldap":
			provider = auth.ProviderLDAP
		case "oidc":
			provider = auth.ProviderOIDC
		default:
			return fmt.Errorf("--provider must be 'ldap' or 'oidc', got %q", providerFlag)
		}

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

		if err := bundle.Service.MapGroupToTeam(ctx, args[0], provider, args[1]); err != nil {
			return fmt.Errorf("failed to map group: %w", err)
		}

		fmt.Printf("Group '%s' (%s) mapped to team '%s'\n", args[1], provider, args[0])
		return nil
	},
}

func init() {
	mapGroupCmd.Flags().StringVar(&providerFlag, "provider", "", "Identity provider asserting the group: ldap or oidc (required)")
	_ = mapGroupCmd.MarkFlagRequired("provider")
}
