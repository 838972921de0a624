package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/reparto-app/reparto-go/internal/session"
)

// refreshPath is the token renewal endpoint. A 401 from this endpoint means
// the refresh token itself is invalid.
const refreshPath = "/auth/token/refresh/"

// inflightRefresh is the single in-flight renewal handle. Late callers wait
// on done and then read ok; ok is written before done is closed.
type inflightRefresh struct {
	done chan struct{}
	ok   bool
}

// refreshRequest and refreshResponse are the renewal wire contract.
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access    string `json:"access"`
	ExpiresIn int64  `json:"expires_in,omitempty"` // seconds; optional
}

// ensureFresh guarantees a usable access token, returning true when the
// session can be used afterward.
//
// At most one renewal network call is in flight at any time: concurrent
// callers that notice an expiring token collapse into one renewal and all
// observe its result. The backend invalidates a refresh token the moment it
// is used, so a second concurrent renewal with the same (now stale) refresh
// token would fail and destroy a session that was still renewable.
func (c *Client) ensureFresh(ctx context.Context) bool {
	c.refreshMu.Lock()

	if fl := c.refresh; fl != nil {
		c.refreshMu.Unlock()

		select {
		case <-fl.done:
			return fl.ok
		case <-ctx.Done():
			return false
		}
	}

	refreshToken := c.state.RefreshToken()
	if refreshToken == "" {
		c.refreshMu.Unlock()
		return false
	}

	fl := &inflightRefresh{done: make(chan struct{})}
	c.refresh = fl
	c.refreshMu.Unlock()

	// Clear the marker before releasing waiters so a failed renewal can be
	// retried by the next caller.
	defer func() {
		c.refreshMu.Lock()
		c.refresh = nil
		c.refreshMu.Unlock()

		close(fl.done)
	}()

	fl.ok = c.renew(ctx, refreshToken)

	return fl.ok
}

// awaitRefresh blocks until any in-flight renewal completes. Login and
// logout call this before superseding the session so an explicit credential
// change never interleaves with a renewal's session write.
func (c *Client) awaitRefresh(ctx context.Context) {
	c.refreshMu.Lock()
	fl := c.refresh
	c.refreshMu.Unlock()

	if fl == nil {
		return
	}

	select {
	case <-fl.done:
	case <-ctx.Done():
	}
}

// renew performs the single renewal network call and applies its outcome:
//   - 200: install the new access token (server-supplied lifetime or the
//     configured default), keep the refresh token, persist, report true.
//   - 401: the refresh token is invalid; clear the store and reset the
//     session, report false.
//   - anything else (timeout, connectivity, 5xx): report false without
//     clearing — the refresh token may still be valid and a later attempt
//     may succeed.
func (c *Client) renew(ctx context.Context, refreshToken string) bool {
	data, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		c.logger.Error("encoding refresh request", slog.String("error", err.Error()))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(data))
	if err != nil {
		c.logger.Error("creating refresh request", slog.String("error", err.Error()))
		return false
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("token renewal failed, keeping session",
			slog.String("error", err.Error()),
		)

		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.applyRenewal(resp.Body)

	case resp.StatusCode == http.StatusUnauthorized:
		// The refresh token itself was rejected: this session is dead.
		c.logger.Info("refresh token invalid, clearing session")
		c.clearSession()

		return false

	default:
		c.logger.Warn("token renewal failed, keeping session",
			slog.Int("status", resp.StatusCode),
		)

		return false
	}
}

// applyRenewal decodes a successful renewal response and installs the new
// access token in state and store.
func (c *Client) applyRenewal(body io.Reader) bool {
	var rr refreshResponse
	if err := json.NewDecoder(body).Decode(&rr); err != nil || rr.Access == "" {
		c.logger.Error("invalid renewal response", slog.Any("error", err))
		return false
	}

	lifetime := c.tokenLifetime
	if rr.ExpiresIn > 0 {
		lifetime = time.Duration(rr.ExpiresIn) * time.Second
	}

	updated := c.state.ApplyRefresh(rr.Access, lifetime)

	if c.store != nil {
		if err := c.store.Save(updated); err != nil {
			// The in-memory session is already usable; persistence failure
			// only costs a re-login after restart.
			c.logger.Warn("persisting renewed session failed",
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Debug("access token renewed",
		slog.Time("expires_at", updated.ExpiresAt),
	)

	return true
}

// clearSession resets the in-memory session and clears the persisted store.
func (c *Client) clearSession() {
	c.state.Reset()

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("clearing session store failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

// InstallSession installs a freshly issued token pair (login, registration),
// deriving role, user id, and expiry from the access token claims, and
// persists the result. It awaits any in-flight renewal first and then
// supersedes its outcome.
func (c *Client) InstallSession(ctx context.Context, access, refresh string, expiresIn int64) session.Session {
	c.awaitRefresh(ctx)

	lifetime := c.tokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}

	now := time.Now()
	sess := session.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     now,
		ExpiresAt:    now.Add(lifetime),
	}

	if claims, err := session.ExtractClaims(access); err == nil {
		sess.Role = claims.Role
		sess.UserID = claims.UserID

		if !claims.ExpiresAt.IsZero() {
			sess.ExpiresAt = claims.ExpiresAt
		}
	}

	c.state.Set(sess)

	if c.store != nil {
		if err := c.store.Save(sess); err != nil {
			c.logger.Warn("persisting session failed", slog.String("error", err.Error()))
		}
	}

	return sess
}
