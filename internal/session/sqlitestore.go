package session

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Embed migration SQL files for schema versioning.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the session in an embedded SQLite database as one row
// per logical key. Writes run in a single transaction, so a failure mid-save
// rolls back and previously stored fields stay intact.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the session database at dbPath
// and applies pending schema migrations. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), DirPerms); err != nil {
			return nil, fmt.Errorf("session: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}

	// Single writer; the session store never needs concurrent connections.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: set WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("session database ready", slog.String("path", dbPath))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("session: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("session: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("session: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored session in a single transaction.
func (s *SQLiteStore) Save(sess Session) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_store"); err != nil {
		return fmt.Errorf("session: clearing previous session: %w", err)
	}

	for key, value := range encodeFields(sess) {
		if value == "" {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_store (key, value) VALUES (?, ?)", key, value,
		); err != nil {
			return fmt.Errorf("session: writing %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit save: %w", err)
	}

	return nil
}

// Load reads the persisted session. An empty table yields the anonymous
// session. Unreadable or unparseable rows clear the store and yield anonymous
// (fail safe to logged-out).
func (s *SQLiteStore) Load() (Session, error) {
	ctx := context.Background()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM session_store")
	if err != nil {
		s.logger.Warn("session table unreadable, clearing", slog.String("error", err.Error()))
		_ = s.Clear()

		return Anonymous(), nil
	}
	defer rows.Close()

	fields := make(map[string]string)

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			s.logger.Warn("session row unreadable, clearing", slog.String("error", err.Error()))
			_ = s.Clear()

			return Anonymous(), nil
		}

		fields[key] = value
	}

	if err := rows.Err(); err != nil {
		s.logger.Warn("session scan failed, clearing", slog.String("error", err.Error()))
		_ = s.Clear()

		return Anonymous(), nil
	}

	sess, err := decodeFields(fields)
	if err != nil {
		s.logger.Warn("session fields corrupt, clearing", slog.String("error", err.Error()))
		_ = s.Clear()

		return Anonymous(), nil
	}

	return sess, nil
}

// Clear removes every stored field.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.ExecContext(context.Background(), "DELETE FROM session_store"); err != nil {
		return fmt.Errorf("session: clearing store: %w", err)
	}

	return nil
}

// encodeFields maps a session onto the six logical persistence keys.
// Timestamps are stored as RFC 3339 strings, the user id as decimal.
func encodeFields(sess Session) map[string]string {
	fields := map[string]string{
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
		KeyRole:         sess.Role,
	}

	if sess.UserID != 0 {
		fields[KeyUserID] = strconv.FormatInt(sess.UserID, 10)
	}

	if !sess.IssuedAt.IsZero() {
		fields[KeyIssuedAt] = sess.IssuedAt.Format(time.RFC3339Nano)
	}

	if !sess.ExpiresAt.IsZero() {
		fields[KeyExpiresAt] = sess.ExpiresAt.Format(time.RFC3339Nano)
	}

	return fields
}

// decodeFields rebuilds a session from stored rows. Unknown keys are ignored
// so a schema addition does not break older binaries.
func decodeFields(fields map[string]string) (Session, error) {
	sess := Session{
		AccessToken:  fields[KeyAccessToken],
		RefreshToken: fields[KeyRefreshToken],
		Role:         fields[KeyRole],
	}

	if raw, ok := fields[KeyUserID]; ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Session{}, fmt.Errorf("session: invalid user id %q: %w", raw, err)
		}

		sess.UserID = id
	}

	if raw, ok := fields[KeyIssuedAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Session{}, fmt.Errorf("session: invalid issued_at %q: %w", raw, err)
		}

		sess.IssuedAt = t
	}

	if raw, ok := fields[KeyExpiresAt]; ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Session{}, fmt.Errorf("session: invalid expires_at %q: %w", raw, err)
		}

		sess.ExpiresAt = t
	}

	return sess, nil
}
