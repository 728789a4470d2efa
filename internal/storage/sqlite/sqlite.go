// Package sqlite persists the Comfort Cloud session in a SQLite database so
// an authenticated session survives process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// SessionStore implements comfortcloud.SessionStore on top of SQLite. The
// backing table holds at most one row.
type SessionStore struct {
	db *sql.DB
}

// New creates a store backed by the database at dbPath, creating the file
// and schema when missing.
func New(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SessionStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the database schema
func (s *SessionStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS comfort_cloud_session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Load retrieves the stored session, or (nil, nil) when none has been saved.
func (s *SessionStore) Load(ctx context.Context) (*comfortcloud.Session, error) {
	query := `
		SELECT access_token, refresh_token, expires_at, client_id
		FROM comfort_cloud_session
		WHERE id = 1
	`

	var session comfortcloud.Session
	err := s.db.QueryRowContext(ctx, query).Scan(
		&session.AccessToken,
		&session.RefreshToken,
		&session.ExpiresAt,
		&session.ClientID,
	)
	if err == sql.ErrNoRows {
		return nil, nil // No session stored yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &session, nil
}

// Save stores the session, replacing any previously saved one.
func (s *SessionStore) Save(ctx context.Context, session *comfortcloud.Session) error {
	// Check if a session row already exists
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM comfort_cloud_session WHERE id = 1)",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing session: %w", err)
	}

	if exists {
		query := `
			UPDATE comfort_cloud_session
			SET access_token = ?, refresh_token = ?, expires_at = ?, client_id = ?, updated_at = ?
			WHERE id = 1
		`
		_, err = s.db.ExecContext(ctx, query,
			session.AccessToken,
			session.RefreshToken,
			session.ExpiresAt,
			session.ClientID,
			time.Now(),
		)
	} else {
		query := `
			INSERT INTO comfort_cloud_session (id, access_token, refresh_token, expires_at, client_id, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
		`
		_, err = s.db.ExecContext(ctx, query,
			session.AccessToken,
			session.RefreshToken,
			session.ExpiresAt,
			session.ClientID,
			time.Now(),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM comfort_cloud_session WHERE id = 1")
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	return nil
}

// Close closes the underlying database
func (s *SessionStore) Close() error {
	return s.db.Close()
}
