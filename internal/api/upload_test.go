package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempFile creates a file with the given name and content under a
// temp directory and returns its path.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestUploadMultipart_Success(t *testing.T) {
	photo := writeTempFile(t, "comprobante.jpg", "jpeg-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "7", r.FormValue("order_id"))
		assert.Equal(t, "entregado", r.FormValue("status"))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "comprobante.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Hour), nil)

	resp, err := client.UploadMultipart(context.Background(), http.MethodPost, "/deliveries/7/proof/",
		map[string]string{"order_id": "7", "status": "entregado"},
		[]PendingFile{{Field: "photo", Path: photo}})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestUploadMultipart_RebuildsOn401(t *testing.T) {
	photo := writeTempFile(t, "comprobante.png", "png-bytes")

	var (
		calls atomic.Int32
		mu    sync.Mutex
		seen  []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access":"renewed-token"}`))
	})
	mux.HandleFunc("/deliveries/7/proof/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()

		content, err := io.ReadAll(file)
		require.NoError(t, err)

		mu.Lock()
		seen = append(seen, r.FormValue("note")+"|"+header.Filename+"|"+string(content))
		mu.Unlock()

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		assert.Equal(t, "Bearer renewed-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Hour), nil)

	resp, err := client.UploadMultipart(context.Background(), http.MethodPost, "/deliveries/7/proof/",
		map[string]string{"note": "en porteria"},
		[]PendingFile{{Field: "photo", Path: photo}})
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1], "rebuilt body must carry the same fields and file content")
}

func TestUploadMultipart_ReactiveRetryConsumedOnce(t *testing.T) {
	photo := writeTempFile(t, "comprobante.pdf", "pdf-bytes")

	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access":"renewed-token"}`))
	})
	mux.HandleFunc("/deliveries/7/proof/", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Hour), nil)

	_, err := client.UploadMultipart(context.Background(), http.MethodPost, "/deliveries/7/proof/",
		nil, []PendingFile{{Field: "photo", Path: photo}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUploadMultipart_NoBackoffOnTransportError(t *testing.T) {
	photo := writeTempFile(t, "comprobante.jpg", "jpeg-bytes")

	client := newTestClient(t, "http://127.0.0.1:1", authedSession(t, time.Hour), nil)

	var slept atomic.Int32

	client.sleepFunc = func(_ context.Context, _ time.Duration) error {
		slept.Add(1)
		return nil
	}

	_, err := client.UploadMultipart(context.Background(), http.MethodPost, "/deliveries/7/proof/",
		nil, []PendingFile{{Field: "photo", Path: photo}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Zero(t, slept.Load(), "uploads are not retried with backoff")
}

func TestUploadMultipart_ValidationBeforeNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no network call expected for an invalid file")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Hour), nil)

	tests := []struct {
		name string
		file PendingFile
	}{
		{"missing file", PendingFile{Field: "photo", Path: filepath.Join(t.TempDir(), "nope.jpg")}},
		{"bad extension", PendingFile{Field: "photo", Path: writeTempFile(t, "script.sh", "#!/bin/sh")}},
		{"directory", PendingFile{Field: "photo", Path: t.TempDir()}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.UploadMultipart(context.Background(), http.MethodPost, "/deliveries/7/proof/",
				nil, []PendingFile{tc.file})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Contains(t, apiErr.Fields, "photo", "error must name the offending field")
		})
	}
}

func TestPendingFile_SizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jpg")

	f, err := os.Create(path)
	require.NoError(t, err)

	// Sparse file just over the limit.
	require.NoError(t, f.Truncate(maxUploadSize+1))
	require.NoError(t, f.Close())

	err = PendingFile{Field: "photo", Path: path}.validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPendingFile_ContentTypes(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.jpg", "image/jpeg"},
		{"a.JPEG", "image/jpeg"},
		{"a.png", "image/png"},
		{"a.webp", "image/webp"},
		{"a.pdf", "application/pdf"},
		{"a.bin", "application/octet-stream"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, PendingFile{Path: tc.path}.contentType(), tc.path)
	}
}
