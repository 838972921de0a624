// Package session holds the authenticated identity bound to this client and
// its durable persistence. Exactly one Session exists per running client; all
// components read it through State and mutate it only through the refresh
// coordinator or explicit login/logout paths.
package session

import "time"

// DefaultLifetime is the access token lifetime assumed when the server does
// not supply one.
const DefaultLifetime = 12 * time.Hour

// Session is the authenticated identity. A Session with an empty AccessToken
// is anonymous and no other field is meaningful. A non-empty AccessToken
// always carries a non-zero ExpiresAt.
type Session struct {
	AccessToken  string
	RefreshToken string
	Role         string
	UserID       int64
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Anonymous returns the logged-out session.
func Anonymous() Session {
	return Session{}
}

// IsAnonymous reports whether the session carries no credentials.
func (s Session) IsAnonymous() bool {
	return s.AccessToken == ""
}

// ExpiringWithin reports whether the access token is within margin of its
// expiry. An unknown expiry is treated as already expiring: renewing a token
// we cannot reason about is always safer than firing a doomed request.
func (s Session) ExpiringWithin(margin time.Duration, now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}

	return !now.Before(s.ExpiresAt.Add(-margin))
}
