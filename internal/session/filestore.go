package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// sessionFile is the on-disk JSON shape. Field names are the six logical
// persistence keys.
type sessionFile struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	IssuedAt     *time.Time `json:"issued_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Role         string     `json:"role,omitempty"`
	UserID       int64      `json:"user_id,omitempty"`
}

// FileStore persists the session as a single JSON document written atomically
// (write-to-temp + rename), so a crash mid-save can never leave a mix of old
// and new fields on disk.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{path: path, logger: logger}
}

// Save writes the session to disk with 0600 permissions. Never logs token
// values.
func (f *FileStore) Save(s Session) error {
	sf := sessionFile{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Role:         s.Role,
		UserID:       s.UserID,
	}

	if !s.IssuedAt.IsZero() {
		t := s.IssuedAt
		sf.IssuedAt = &t
	}

	if !s.ExpiresAt.IsZero() {
		t := s.ExpiresAt
		sf.ExpiresAt = &t
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding: %w", err)
	}

	dir := filepath.Dir(f.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("session: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("session: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("session: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("session: renaming: %w", err)
	}

	success = true

	return nil
}

// Load reads the persisted session. A missing file yields the anonymous
// session without error. A corrupt or unreadable file clears the store and
// yields anonymous: failing safe to logged-out beats resurrecting a
// half-written session.
func (f *FileStore) Load() (Session, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Anonymous(), nil
	}

	if err != nil {
		f.logger.Warn("session file unreadable, clearing",
			slog.String("path", f.path),
			slog.String("error", err.Error()),
		)

		_ = f.Clear()

		return Anonymous(), nil
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		f.logger.Warn("session file corrupt, clearing",
			slog.String("path", f.path),
			slog.String("error", err.Error()),
		)

		_ = f.Clear()

		return Anonymous(), nil
	}

	s := Session{
		AccessToken:  sf.AccessToken,
		RefreshToken: sf.RefreshToken,
		Role:         sf.Role,
		UserID:       sf.UserID,
	}

	if sf.IssuedAt != nil {
		s.IssuedAt = *sf.IssuedAt
	}

	if sf.ExpiresAt != nil {
		s.ExpiresAt = *sf.ExpiresAt
	}

	return s, nil
}

// Clear removes the session file. Returns nil if nothing was stored.
func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("session: removing %s: %w", f.path, err)
	}

	return nil
}
