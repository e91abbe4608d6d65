package apikeys

import "github.com/spf13/cobra"

// APIKeysCmd groups the API key management commands.
var APIKeysCmd = &cobra.Command{
	Use:   "apikeys",
	Short: "Manage API keys",
	Long:  `Commands for creating, listing, rotating, and revoking API keys.`,
}

func init() {
	APIKeysCmd.AddCommand(createCmd)
	APIKeysCmd.AddCommand(listCmd)
	APIKeysCmd.AddCommand(rotateCmd)
	APIKeysCmd.AddCommand(revokeCmd)
}
