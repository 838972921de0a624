package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/reparto-app/reparto-go/internal/api"
)

// defaultUploadWorkers bounds concurrent multipart uploads.
const defaultUploadWorkers = 4

func newUploadCmd() *cobra.Command {
	var (
		field    string
		method   string
		sets     []string
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "upload PATH FILE...",
		Short: "Upload files through the multipart endpoint",
		Long: `Upload one or more files to an API path as multipart requests.

Each file is validated locally (size, extension) before any network call
and sent as its own request; multiple files are dispatched through a
bounded worker pool. Extra form fields are attached with --set key=value.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			files := args[1:]

			fields, err := parseFields(sets)
			if err != nil {
				return err
			}

			client, logger, cleanup, buildErr := buildClient()
			if buildErr != nil {
				return buildErr
			}
			defer cleanup()

			if parallel < 1 {
				parallel = 1
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)

			for _, file := range files {
				file := file
				g.Go(func() error {
					resp, err := client.UploadMultipart(ctx, method, path, fields,
						[]api.PendingFile{{Field: field, Path: file}})
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					defer resp.Body.Close()

					// Drain so the connection is reusable by the next upload.
					if _, err := io.Copy(io.Discard, resp.Body); err != nil {
						return fmt.Errorf("%s: reading response: %w", file, err)
					}

					logger.Info("uploaded", "file", file, "status", resp.StatusCode)

					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Printf("Uploaded %d file(s).\n", len(files))

			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "file", "form field name for the file part")
	cmd.Flags().StringVar(&method, "method", http.MethodPost, "HTTP method (POST or PATCH)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "extra form field as key=value (repeatable)")
	cmd.Flags().IntVar(&parallel, "parallel", defaultUploadWorkers, "max concurrent uploads")

	return cmd
}

// parseFields turns repeated key=value flags into a field map.
func parseFields(sets []string) (map[string]string, error) {
	if len(sets) == 0 {
		return nil, nil
	}

	fields := make(map[string]string, len(sets))

	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set value %q, expected key=value", kv)
		}

		fields[key] = value
	}

	return fields, nil
}
