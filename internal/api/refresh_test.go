package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reparto-app/reparto-go/internal/session"
)

func TestEnsureFresh_SingleFlight(t *testing.T) {
	// N concurrent callers must collapse into exactly one renewal call: the
	// backend invalidates a refresh token on first use, so a second call with
	// the same token would destroy a live session.
	var refreshCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, refreshPath, r.URL.Path)
		refreshCalls.Add(1)

		// Hold the response briefly so the other goroutines pile up behind
		// the in-flight handle instead of racing past it.
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"access":"renewed-token"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Minute), nil)

	const goroutines = 10

	var (
		wg      sync.WaitGroup
		results [goroutines]bool
	)

	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i] = client.ensureFresh(context.Background())
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), refreshCalls.Load(), "concurrent callers must share one renewal")

	for i, ok := range results {
		assert.True(t, ok, "caller %d must observe the shared result", i)
	}

	assert.Equal(t, "renewed-token", client.state.Current().AccessToken)
}

func TestEnsureFresh_FailureRetriableByNextCaller(t *testing.T) {
	// A failed renewal clears the in-flight marker, so the next caller gets
	// a fresh attempt instead of a cached failure.
	var refreshCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if refreshCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{"access":"renewed-token"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Minute), nil)

	assert.False(t, client.ensureFresh(context.Background()))
	assert.True(t, client.ensureFresh(context.Background()))
	assert.Equal(t, int32(2), refreshCalls.Load())
}

func TestEnsureFresh_NoRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no network call expected without a refresh token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, session.Anonymous(), nil)

	assert.False(t, client.ensureFresh(context.Background()))
}

func TestRenew_401ClearsStateAndStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "session.json")
	store := session.NewFileStore(path, testLogger())

	sess := authedSession(t, time.Minute)
	require.NoError(t, store.Save(sess))

	client := newTestClient(t, srv.URL, sess, store)

	assert.False(t, client.ensureFresh(context.Background()))

	// In-memory session gone.
	assert.True(t, client.state.Current().IsAnonymous())

	// Persisted session gone: a fresh load comes back anonymous with every
	// field zeroed.
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.IsAnonymous())
	assert.Empty(t, loaded.AccessToken)
	assert.Empty(t, loaded.RefreshToken)
	assert.Empty(t, loaded.Role)
	assert.Zero(t, loaded.UserID)
	assert.True(t, loaded.IssuedAt.IsZero())
	assert.True(t, loaded.ExpiresAt.IsZero())
}

func TestRenew_ServerErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sess := authedSession(t, time.Minute)
	client := newTestClient(t, srv.URL, sess, nil)

	assert.False(t, client.ensureFresh(context.Background()))
	assert.Equal(t, sess.AccessToken, client.state.Current().AccessToken, "session survives a transient failure")
	assert.Equal(t, sess.RefreshToken, client.state.Current().RefreshToken)
}

func TestRenew_NetworkErrorKeepsSession(t *testing.T) {
	sess := authedSession(t, time.Minute)
	client := newTestClient(t, "http://127.0.0.1:1", sess, nil)

	assert.False(t, client.ensureFresh(context.Background()))
	assert.Equal(t, sess.RefreshToken, client.state.Current().RefreshToken)
}

func TestRenew_ServerLifetimeWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access":"renewed-token","expires_in":900}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, authedSession(t, time.Minute), nil)

	require.True(t, client.ensureFresh(context.Background()))

	expiresAt := client.state.Current().ExpiresAt
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)
}

func TestRenew_PersistsRenewedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access":"renewed-token"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "session.json")
	store := session.NewFileStore(path, testLogger())

	sess := authedSession(t, time.Minute)
	require.NoError(t, store.Save(sess))

	client := newTestClient(t, srv.URL, sess, store)

	require.True(t, client.ensureFresh(context.Background()))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "renewed-token", loaded.AccessToken)
	assert.Equal(t, sess.RefreshToken, loaded.RefreshToken, "refresh token is not rotated")
}

func TestInstallSession_DerivesClaims(t *testing.T) {
	expiresAt := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	access := mintToken(t, "proveedor", 99, expiresAt)

	path := filepath.Join(t.TempDir(), "session.json")
	store := session.NewFileStore(path, testLogger())

	client := newTestClient(t, "http://unused", session.Anonymous(), store)

	installed := client.InstallSession(context.Background(), access, "new-refresh", 0)

	assert.Equal(t, "proveedor", installed.Role)
	assert.Equal(t, int64(99), installed.UserID)
	assert.WithinDuration(t, expiresAt, installed.ExpiresAt, time.Second)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, access, loaded.AccessToken)
	assert.Equal(t, "new-refresh", loaded.RefreshToken)
}

func TestAwaitRefresh_NoInflightReturnsImmediately(t *testing.T) {
	client := newTestClient(t, "http://unused", session.Anonymous(), nil)

	done := make(chan struct{})

	go func() {
		client.awaitRefresh(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("awaitRefresh must not block when no renewal is in flight")
	}
}
