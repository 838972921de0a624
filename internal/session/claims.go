package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the fields this client reads out of an access token. Role is
// metadata only: authorization decisions stay on the server.
type Claims struct {
	Role      string
	UserID    int64
	ExpiresAt time.Time
}

// tokenClaims is the JWT claim shape issued by the Reparto backend.
type tokenClaims struct {
	jwt.RegisteredClaims

	Role   string `json:"role,omitempty"`
	UserID int64  `json:"user_id,omitempty"`
}

// ExtractClaims parses role, user id, and expiry out of an access token
// without verifying the signature. The client holds no signing key; the
// server remains the authority on token validity, and these values are used
// only for display and for the preemptive-refresh expiry check.
func ExtractClaims(accessToken string) (Claims, error) {
	var tc tokenClaims

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &tc); err != nil {
		return Claims{}, fmt.Errorf("session: parsing access token claims: %w", err)
	}

	c := Claims{
		Role:   tc.Role,
		UserID: tc.UserID,
	}

	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}

	return c, nil
}
