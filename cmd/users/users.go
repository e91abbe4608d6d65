package users

import "github.com/spf13/cobra"

// UsersCmd groups the managed-user administration commands.
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local users",
	Long:  `Commands for creating, suspending, and listing locally managed users.`,
}

func init() {
	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(suspendCmd)
	UsersCmd.AddCommand(unsuspendCmd)
}
