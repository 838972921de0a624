package session

// Logical keys for the persistence boundary. Both store backends persist
// exactly these six fields.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIssuedAt     = "issued_at"
	KeyExpiresAt    = "expires_at"
	KeyRole         = "role"
	KeyUserID       = "user_id"
)

// Store is durable persistence for the session.
//
// Load never fails for "nothing stored": it returns the anonymous session.
// A load that hits a persistence error clears the store and returns anonymous
// — the client fails safe to logged-out, never to a corrupt
// partially-authenticated state.
type Store interface {
	Save(s Session) error
	Load() (Session, error)
	Clear() error
}
