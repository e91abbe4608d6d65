package teams

import "github.com/spf13/cobra"

// TeamsCmd groups the team administration commands.
var TeamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage teams",
	Long:  `Commands for creating teams, granting permissions, binding external groups, and importing bootstrap documents.`,
}

func init() {
	TeamsCmd.AddCommand(createCmd)
	TeamsCmd.AddCommand(listCmd)
	TeamsCmd.AddCommand(grantCmd)
	TeamsCmd.AddCommand(mapGroupCmd)
	TeamsCmd.AddCommand(importCmd)
}
