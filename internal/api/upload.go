package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxUploadSize is the per-file limit (10 MB).
const maxUploadSize = 10 << 20

// allowedExtensions maps accepted file extensions to their content type.
// Anything else is rejected before touching the network.
var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// PendingFile is one file part of a multipart upload. It holds a path rather
// than an open stream so the body can be rebuilt deterministically when the
// request is retried after a token renewal.
type PendingFile struct {
	Field string // form field name
	Path  string // local file to send
}

// validate checks the file before any network activity: it must exist, be a
// regular file, fit the size limit, and carry an allowed extension. The
// returned error names the offending field.
func (f PendingFile) validate() error {
	fail := func(msg string) error {
		return &APIError{
			Message: fmt.Sprintf("invalid file for field %q: %s", f.Field, msg),
			Fields:  map[string][]string{f.Field: {msg}},
			Err:     ErrValidation,
		}
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return fail(fmt.Sprintf("cannot read %s", f.Path))
	}

	if !info.Mode().IsRegular() {
		return fail(fmt.Sprintf("%s is not a regular file", f.Path))
	}

	if info.Size() > maxUploadSize {
		return fail(fmt.Sprintf("%s exceeds the %d MB limit", f.Path, maxUploadSize>>20))
	}

	if _, ok := allowedExtensions[f.ext()]; !ok {
		return fail(fmt.Sprintf("extension %q is not allowed", f.ext()))
	}

	return nil
}

// contentType derives the part content type from the file extension.
func (f PendingFile) contentType() string {
	if ct, ok := allowedExtensions[f.ext()]; ok {
		return ct
	}

	return "application/octet-stream"
}

func (f PendingFile) ext() string {
	return strings.ToLower(filepath.Ext(f.Path))
}

// UploadMultipart sends fields and files as a multipart request with the
// upload timeout (the standard receive timeout times the configured factor).
//
// On 401 the body is rebuilt from the original file paths and the request is
// retried exactly once after a successful renewal. Transport failures are
// surfaced directly: uploads are never retried with backoff, because
// automatically re-sending a large payload risks duplicate server-side
// effects — the caller decides whether to resubmit.
func (c *Client) UploadMultipart(
	ctx context.Context, method, path string, fields map[string]string, files []PendingFile,
) (*http.Response, error) {
	for _, f := range files {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}

	if c.state.IsAuthenticated() && c.state.ExpiringWithin(c.refreshMargin) {
		c.ensureFresh(ctx)
	}

	url := c.baseURL + path
	reactiveUsed := false

	for {
		// Rebuilt per dispatch: a consumed multipart stream cannot be replayed.
		body, contentType, err := buildMultipart(fields, files)
		if err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", contentType)

		resp, err := c.uploadClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: upload canceled: %w", ctx.Err())
			}

			return nil, &APIError{
				Message: fmt.Sprintf("%s %s upload failed: %v", method, path, err),
				Err:     classifyTransport(err),
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			errBody := drainBody(resp)

			if !reactiveUsed && c.ensureFresh(ctx) {
				reactiveUsed = true

				c.logger.Debug("renewed after 401, rebuilding upload",
					slog.String("path", path),
				)

				continue
			}

			return nil, decodeError(http.StatusUnauthorized, errBody)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("upload succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("files", len(files)),
			)

			return resp, nil
		}

		return nil, decodeError(resp.StatusCode, drainBody(resp))
	}
}

// buildMultipart assembles the multipart body from scratch. Field keys are
// written in sorted order so rebuilt bodies are equivalent across retries.
func buildMultipart(fields map[string]string, files []PendingFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err := w.WriteField(name, fields[name]); err != nil {
			return nil, "", fmt.Errorf("api: writing field %q: %w", name, err)
		}
	}

	for _, f := range files {
		if err := writeFilePart(w, f); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("api: finalizing multipart body: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}

// writeFilePart reopens the file and streams it into a part carrying the
// extension-derived content type.
func writeFilePart(w *multipart.Writer, f PendingFile) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		f.Field, filepath.Base(f.Path)))
	header.Set("Content-Type", f.contentType())

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("api: creating part for field %q: %w", f.Field, err)
	}

	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("api: opening %s: %w", f.Path, err)
	}
	defer src.Close()

	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("api: reading %s: %w", f.Path, err)
	}

	return nil
}
