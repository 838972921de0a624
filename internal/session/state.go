package session

import (
	"log/slog"
	"sync"
	"time"
)

// State is the in-memory view of the current session. Reads are cheap and may
// come from any goroutine; writes happen only inside the refresh coordinator's
// critical section or through explicit login/logout operations.
type State struct {
	mu     sync.RWMutex
	cur    Session
	now    func() time.Time
	logger *slog.Logger
}

// NewState creates a State seeded with the given session (typically the
// result of Store.Load at startup).
func NewState(initial Session, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}

	return &State{
		cur:    initial,
		now:    time.Now,
		logger: logger,
	}
}

// Current returns a copy of the session.
func (st *State) Current() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.cur
}

// IsAuthenticated reports whether an access token is present.
func (st *State) IsAuthenticated() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return !st.cur.IsAnonymous()
}

// ExpiringWithin reports whether the access token expires within margin.
// True for an authenticated session with no known expiry (fail safe).
func (st *State) ExpiringWithin(margin time.Duration) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.cur.ExpiringWithin(margin, st.now())
}

// RefreshToken returns the stored refresh token, or "" when anonymous.
func (st *State) RefreshToken() string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.cur.RefreshToken
}

// ApplyRefresh installs a renewed access token, keeping the existing refresh
// token (the backend does not rotate refresh tokens). Role and user id are
// re-read from the new token's claims when present so a server-side role
// change propagates on renewal. Returns a copy of the updated session for
// persisting.
func (st *State) ApplyRefresh(accessToken string, lifetime time.Duration) Session {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.cur.AccessToken = accessToken
	st.cur.IssuedAt = now
	st.cur.ExpiresAt = now.Add(lifetime)

	if claims, err := ExtractClaims(accessToken); err == nil {
		if claims.Role != "" {
			st.cur.Role = claims.Role
		}

		if claims.UserID != 0 {
			st.cur.UserID = claims.UserID
		}

		if !claims.ExpiresAt.IsZero() {
			st.cur.ExpiresAt = claims.ExpiresAt
		}
	}

	st.logger.Debug("session refreshed",
		slog.Time("expires_at", st.cur.ExpiresAt),
		slog.String("role", st.cur.Role),
	)

	return st.cur
}

// Set replaces the session wholesale (login, registration, startup load).
func (st *State) Set(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.cur = s
}

// Reset clears the session to anonymous.
func (st *State) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.cur = Anonymous()
	st.logger.Debug("session reset to anonymous")
}
