package teams

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams with their mapped groups",
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

		teams, err := bundle.Service.ListTeams(ctx)
		if err != nil {
			return fmt.Errorf("failed to list teams: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tMAPPED_GROUPS")
		for _, team := range teams {
			bindings, err := bundle.Service.ListMappedGroups(ctx, team.Name)
			if err != nil {
				return fmt.Errorf("failed to list mapped groups for team '%s': %w", team.Name, err)
			}
			groups := make([]string, len(bindings))
			for i, b := range bindings {
				groups[i] = fmt.Sprintf("%s:%s", b.IdentityProvider, b.GroupName)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				team.Name,
				team.Description,
				strings.Join(groups, ", "),
			)
		}
		w.Flush()

		return nil
	},
}
