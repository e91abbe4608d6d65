package apikeys

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var filterFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	Long: `Lists API keys with their public IDs and usage timestamps. The secret
is never stored and cannot be listed.

The --filter flag takes a boolean expression over the columns, e.g.
  --filter 'comment contains "ci" and rotated == false'`,
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

		keys, err := bundle.Service.ListAPIKeys(ctx)
		if err != nil {
			return fmt.Errorf("failed to list API keys: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PUBLIC_ID\tCOMMENT\tCREATED_AT\tROTATED_AT\tLAST_USED_AT")
		for _, key := range keys {
			fields := map[string]any{
				"public_id": key.PublicID,
				"comment":   key.Comment,
				"rotated":   key.RotatedAt != nil,
				"used":      key.LastUsedAt != nil,
			}
			match, err := cmdutil.MatchFilter(filterFlag, fields)
			if err != nil {
				return err
			}
			if !match {
				continue
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				key.PublicID,
				key.Comment,
				key.CreatedAt.Format(time.RFC3339),
				formatTimestamp(key.RotatedAt),
				formatTimestamp(key.LastUsedAt),
			)
		}
		w.Flush()

		return nil
	},
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func init() {
	listCmd.Flags().StringVar(&filterFlag, "filter", "", "Boolean filter expression over the listed columns")
}
