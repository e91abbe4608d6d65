package users

import (
	"bufio"
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warden-auth/warden/cmd/cmdutil"
	"github.com/warden-auth/warden/internal/config"
)

var (
	emailFlag       string
	usernameFlag    string
	fullnameFlag    string
	passwordFlag    string
	stdinFlag       bool
	forceChangeFlag bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new managed user",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Validate required flags
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}
		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email address: %w", err)
			}
		}

		password := passwordFlag
		if stdinFlag {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("a password is required; use --password or --stdin")
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

		user, err := bundle.Service.CreateManagedUser(ctx, usernameFlag, emailFlag, fullnameFlag, password, forceChangeFlag)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Printf("User '%s' created\n", user.Username)
		if user.ForcePasswordChange {
			fmt.Println("The user must change this password at first login.")
		}
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Username (required)")
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address")
	createCmd.Flags().StringVar(&fullnameFlag, "fullname", "", "Display name")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Initial password")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read the initial password from stdin instead of a flag")
	createCmd.Flags().BoolVar(&forceChangeFlag, "force-change", false, "Require a password change at first login")
}
