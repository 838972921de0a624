package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "call METHOD PATH",
		Short: "Issue a raw authenticated API request",
		Long: `Send an arbitrary request through the resilient client and print the
response body. Useful for debugging endpoints before they get a dedicated
command. The request carries the full retry and renewal behavior.

Use --data to attach a JSON body, either inline or @file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			path := args[1]

			client, _, cleanup, err := buildClient()
			if err != nil {
				return err
			}
			defer cleanup()

			var body io.Reader

			if data != "" {
				payload := []byte(data)

				if strings.HasPrefix(data, "@") {
					payload, err = os.ReadFile(data[1:])
					if err != nil {
						return fmt.Errorf("reading body file: %w", err)
					}
				}

				body = strings.NewReader(string(payload))
			}

			resp, err := client.Do(cmd.Context(), method, path, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "JSON request body (inline or @file)")

	return cmd
}
