package teams

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
	"github.com/warden-auth/warden/internal/services/bootstrap"
)

var fileFlag string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a bootstrap document",
	Long: `Imports a JSON document declaring permissions, teams, grants, and
external group bindings. The document is validated against a schema before
anything is written, and re-importing the same document changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if fileFlag == "" {
			return fmt.Errorf("--file flag is required")
		}

		f, err := os.Open(fileFlag)
		if err != nil {
			return fmt.Errorf("failed to open document: %w", err)
		}
		defer f.Close()

		doc, err := bootstrap.Parse(f)
		if err != nil {
			return err
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

		result, err := bootstrap.Apply(ctx, bundle.Service, doc)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Import complete: %d permissions created, %d teams created, %d groups mapped\n",
			result.PermissionsCreated, result.TeamsCreated, result.GroupsMapped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Path to the bootstrap document (required)")
}
