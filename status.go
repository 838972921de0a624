package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// sessionStatus is the machine-readable status shape for --json output.
type sessionStatus struct {
	Authenticated bool      `json:"authenticated"`
	Role          string    `json:"role,omitempty"`
	UserID        int64     `json:"user_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	ExpiringSoon  bool      `json:"expiring_soon,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		RunE: func(_ *cobra.Command, _ []string) error {
			client, _, cleanup, err := buildClient()
			if err != nil {
				return err
			}
			defer cleanup()

			sess := client.Session().Current()

			st := sessionStatus{
				Authenticated: !sess.IsAnonymous(),
				Role:          sess.Role,
				UserID:        sess.UserID,
				ExpiresAt:     sess.ExpiresAt,
			}

			if st.Authenticated {
				st.ExpiringSoon = sess.ExpiringWithin(client.RefreshMargin(), time.Now())
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(st)
			}

			if !st.Authenticated {
				fmt.Println("Not logged in.")
				return nil
			}

			fmt.Printf("Logged in: role %s, user id %d\n", st.Role, st.UserID)
			fmt.Printf("Session expires %s", st.ExpiresAt.Local().Format("2006-01-02 15:04"))

			if st.ExpiringSoon {
				fmt.Print(" (expiring soon, will renew on next request)")
			}

			fmt.Println()

			return nil
		},
	}
}
