package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reparto-app/reparto-go/internal/api"
)

func newLoginCmd() *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist a session",
		Long: `Log in to the Reparto API with email and password.

The resulting session (access and refresh tokens, role, user id, expiry)
is persisted to the configured session store and renewed automatically by
subsequent commands. Omit --password to read it from stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, cleanup, err := buildClient()
			if err != nil {
				return err
			}
			defer cleanup()

			if password == "" {
				password, err = readPassword()
				if err != nil {
					return err
				}
			}

			if err := client.Login(cmd.Context(), api.Credentials{
				Email:    email,
				Password: password,
			}); err != nil {
				return describeAuthError(err)
			}

			sess := client.Session().Current()
			fmt.Printf("Logged in as %s (role %s), session valid until %s\n",
				email, sess.Role, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))

			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (reads stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, cleanup, err := buildClient()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.Logout(cmd.Context()); err != nil {
				// Local credentials are already cleared at this point.
				fmt.Println("Logged out locally; server-side revocation failed.")
				return nil
			}

			fmt.Println("Logged out.")

			return nil
		},
	}
}

// readPassword reads one line from stdin. Used when --password is omitted so
// the secret stays out of shell history.
func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// describeAuthError augments rate-limit failures with the wait metadata so
// the user knows how long the lockout lasts.
func describeAuthError(err error) error {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.RateLimit != nil {
		rl := apiErr.RateLimit
		if rl.Locked {
			return fmt.Errorf("%s (locked for %ds, limiter %q)", apiErr.Message, rl.RetryAfter, rl.Kind)
		}

		if rl.RetryAfter > 0 {
			return fmt.Errorf("%s (retry in %ds)", apiErr.Message, rl.RetryAfter)
		}
	}

	return err
}
