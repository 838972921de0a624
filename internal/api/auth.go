package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Auth endpoints.
const (
	loginPath    = "/auth/login/"
	registerPath = "/auth/register/"
	logoutPath   = "/auth/logout/"
)

// Credentials are the login inputs.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest creates a new account. Role selects the user kind the
// backend should provision (e.g. "cliente", "repartidor", "proveedor").
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role,omitempty"`
}

// tokenPairResponse is the response shape shared by login and registration.
type tokenPairResponse struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// Login authenticates with email and password and installs the resulting
// session. Rate limiting (429 with lockout metadata) surfaces as an APIError
// with RateLimit populated.
func (c *Client) Login(ctx context.Context, creds Credentials) error {
	var resp tokenPairResponse
	if err := c.PostJSON(ctx, loginPath, creds, &resp); err != nil {
		return err
	}

	if resp.Access == "" || resp.Refresh == "" {
		return &APIError{
			Message: "login response missing token pair",
			Err:     ErrUnknown,
		}
	}

	sess := c.InstallSession(ctx, resp.Access, resp.Refresh, resp.ExpiresIn)

	c.logger.Info("logged in",
		slog.String("role", sess.Role),
		slog.Int64("user_id", sess.UserID),
		slog.Time("expires_at", sess.ExpiresAt),
	)

	return nil
}

// Register creates an account and installs the returned session (the backend
// issues a token pair on successful registration).
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	var resp tokenPairResponse
	if err := c.PostJSON(ctx, registerPath, req, &resp); err != nil {
		return err
	}

	if resp.Access == "" || resp.Refresh == "" {
		return &APIError{
			Message: "registration response missing token pair",
			Err:     ErrUnknown,
		}
	}

	sess := c.InstallSession(ctx, resp.Access, resp.Refresh, resp.ExpiresIn)

	c.logger.Info("registered",
		slog.String("role", sess.Role),
		slog.Int64("user_id", sess.UserID),
	)

	return nil
}

// Logout revokes the session server-side (best effort) and always clears the
// local session and store. It awaits any in-flight renewal before clearing so
// the renewal's session write cannot resurrect the credentials.
func (c *Client) Logout(ctx context.Context) error {
	c.awaitRefresh(ctx)

	var revokeErr error

	if c.state.IsAuthenticated() {
		resp, err := c.Do(ctx, http.MethodPost, logoutPath, nil)
		if err != nil {
			// Server-side revocation failing never blocks local logout.
			c.logger.Warn("server-side logout failed", slog.String("error", err.Error()))
			revokeErr = err
		} else {
			drainBody(resp)
		}
	}

	c.clearSession()
	c.logger.Info("logged out")

	if revokeErr != nil {
		return fmt.Errorf("api: session cleared locally, server revocation failed: %w", revokeErr)
	}

	return nil
}
