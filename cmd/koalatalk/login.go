package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koalatalk/koalatalk-go/internal/identity"
)

var flagPassword string

func init() {
	loginCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <id>",
	Short: "Log in and save the session for later invocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := setup()
		if err != nil {
			return err
		}

		password := flagPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		ctx := cmd.Context()
		if err := client.Login(ctx, args[0], password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := identity.SaveSession(client.SessionToken()); err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		alias, err := client.WhoAmI(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s\n", alias)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the server session and forget it locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := setup()
		if err != nil {
			return err
		}
		if err := client.Logout(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "server logout failed: %v\n", err)
		}
		if err := identity.ClearSession(); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the authenticated alias",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := setup()
		if err != nil {
			return err
		}
		alias, err := client.WhoAmI(cmd.Context())
		if err != nil {
			return err
		}
		if alias == "" {
			return fmt.Errorf("not logged in")
		}
		fmt.Println(alias)
		return nil
	},
}
