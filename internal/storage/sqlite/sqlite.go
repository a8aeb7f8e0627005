// Package sqlite persists the DeWarmte API tokens so a restart does
// not force a full password re-authentication. No telemetry is ever
// stored here.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"heatbridge/internal/dewarmte"
)

// Store implements dewarmte.TokenStore using SQLite
type Store struct {
	db *sql.DB
}

// New creates a new SQLite token store instance
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dewarmte_tokens (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			refresh_token TEXT NOT NULL,
			access_token TEXT,
			access_token_expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// GetTokens retrieves the stored tokens, or nil if none are stored yet
func (s *Store) GetTokens(ctx context.Context) (*dewarmte.Tokens, error) {
	var tokens dewarmte.Tokens
	var accessToken sql.NullString
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT refresh_token, access_token, access_token_expires_at, created_at, updated_at
		FROM dewarmte_tokens WHERE id = 1
	`).Scan(&tokens.RefreshToken, &accessToken, &expiresAt, &tokens.CreatedAt, &tokens.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if accessToken.Valid {
		tokens.AccessToken = accessToken.String
	}
	if expiresAt.Valid {
		tokens.AccessExpiresAt = &expiresAt.Time
	}

	return &tokens, nil
}

// SaveTokens saves or updates the tokens
func (s *Store) SaveTokens(ctx context.Context, tokens *dewarmte.Tokens) error {
	now := time.Now()
	tokens.UpdatedAt = now

	var expiresAt sql.NullTime
	if tokens.AccessExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *tokens.AccessExpiresAt, Valid: true}
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM dewarmte_tokens WHERE id = 1)").Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.ExecContext(ctx, `
			UPDATE dewarmte_tokens
			SET refresh_token = ?, access_token = ?, access_token_expires_at = ?, updated_at = ?
			WHERE id = 1
		`, tokens.RefreshToken, tokens.AccessToken, expiresAt, tokens.UpdatedAt)
	} else {
		tokens.CreatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO dewarmte_tokens (id, refresh_token, access_token, access_token_expires_at, created_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
		`, tokens.RefreshToken, tokens.AccessToken, expiresAt, tokens.CreatedAt, tokens.UpdatedAt)
	}

	return err
}

// Ensure Store implements dewarmte.TokenStore
var _ dewarmte.TokenStore = (*Store)(nil)
