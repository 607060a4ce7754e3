// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package statestore provides the durable key-value state behind the
// pipeline: per-model token totals, per-conversation token totals, and the
// "model used before" flags the cold-start policy consults.
package statestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/morganforge/cadence/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS model_tokens (
	model_key   TEXT PRIMARY KEY,
	input       INTEGER NOT NULL DEFAULT 0,
	output      INTEGER NOT NULL DEFAULT 0,
	total       INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_tokens (
	conversation_id TEXT PRIMARY KEY,
	total           INTEGER NOT NULL DEFAULT 0,
	updated_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS model_flags (
	model_name TEXT PRIMARY KEY,
	used_at    TIMESTAMP
);
`

// =============================================================================
// STORE
// =============================================================================

// Store is the SQLite-backed state store.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cadence.db"
	}
	return filepath.Join(home, ".cadence", "state.db")
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// SQLite supports one writer at a time; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// PER-MODEL TOKEN TOTALS
// =============================================================================

// SaveModelTokens upserts the lifetime bucket for one model key
// (provider_modelName).
func (s *Store) SaveModelTokens(modelKey string, b model.TokenBucket) error {
	_, err := s.db.Exec(`
		INSERT INTO model_tokens (model_key, input, output, total, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model_key) DO UPDATE SET
			input = excluded.input,
			output = excluded.output,
			total = excluded.total,
			updated_at = excluded.updated_at`,
		modelKey, b.Input, b.Output, b.Total, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save model tokens: %w", err)
	}
	return nil
}

// LoadModelTokens returns the persisted bucket for a model key.
// ok is false when the model has never been recorded.
func (s *Store) LoadModelTokens(modelKey string) (model.TokenBucket, bool, error) {
	var b model.TokenBucket
	err := s.db.QueryRow(
		`SELECT input, output, total FROM model_tokens WHERE model_key = ?`,
		modelKey).Scan(&b.Input, &b.Output, &b.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TokenBucket{}, false, nil
	}
	if err != nil {
		return model.TokenBucket{}, false, fmt.Errorf("failed to load model tokens: %w", err)
	}
	return b, true, nil
}

// AllModelTokens returns every persisted per-model bucket.
func (s *Store) AllModelTokens() (map[string]model.TokenBucket, error) {
	rows, err := s.db.Query(`SELECT model_key, input, output, total FROM model_tokens`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.TokenBucket)
	for rows.Next() {
		var key string
		var b model.TokenBucket
		if err := rows.Scan(&key, &b.Input, &b.Output, &b.Total); err != nil {
			return nil, err
		}
		out[key] = b
	}
	return out, rows.Err()
}

// DeleteModelTokens clears one model's lifetime bucket.
func (s *Store) DeleteModelTokens(modelKey string) error {
	_, err := s.db.Exec(`DELETE FROM model_tokens WHERE model_key = ?`, modelKey)
	return err
}

// DeleteAllModelTokens clears every per-model bucket.
func (s *Store) DeleteAllModelTokens() error {
	_, err := s.db.Exec(`DELETE FROM model_tokens`)
	return err
}

// =============================================================================
// PER-CONVERSATION TOTALS
// =============================================================================

// SaveConversationTotal upserts a conversation's running token total.
func (s *Store) SaveConversationTotal(conversationID string, total int) error {
	_, err := s.db.Exec(`
		INSERT INTO conversation_tokens (conversation_id, total, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			total = excluded.total,
			updated_at = excluded.updated_at`,
		conversationID, total, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save conversation total: %w", err)
	}
	return nil
}

// LoadConversationTotal returns a conversation's persisted total, 0 when
// the conversation has never been recorded.
func (s *Store) LoadConversationTotal(conversationID string) (int, error) {
	var total int
	err := s.db.QueryRow(
		`SELECT total FROM conversation_tokens WHERE conversation_id = ?`,
		conversationID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load conversation total: %w", err)
	}
	return total, nil
}

// =============================================================================
// MODEL-USED FLAGS
// =============================================================================

// MarkModelUsed durably records that a model has completed a request at
// least once. Consulted by the cold-start retry policy.
func (s *Store) MarkModelUsed(modelName string) error {
	_, err := s.db.Exec(`
		INSERT INTO model_flags (model_name, used_at) VALUES (?, ?)
		ON CONFLICT(model_name) DO NOTHING`,
		modelName, time.Now())
	return err
}

// ModelUsed reports whether a model has ever completed a request.
func (s *Store) ModelUsed(modelName string) (bool, error) {
	var name string
	err := s.db.QueryRow(
		`SELECT model_name FROM model_flags WHERE model_name = ?`,
		modelName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
