package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tester_sessions (
    name       TEXT PRIMARY KEY,
    params     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tester_state (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

const currentSessionKey = "current_session"

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore creates a new PostgreSQL store and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) beginTx(ctx context.Context) (*PostgresStore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx}, nil
}

// inTx runs fn in a transaction, committing on success
func (s *PostgresStore) inTx(ctx context.Context, fn func(*PostgresStore) error) error {
	if s.tx != nil {
		return fn(s)
	}

	txs, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txs); err != nil {
		txs.tx.Rollback()
		return err
	}
	return txs.tx.Commit()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// ListSessions lists session names in ascending order
func (s *PostgresStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.getDB().QueryContext(ctx, `SELECT name FROM tester_sessions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetSession loads a session record
func (s *PostgresStore) GetSession(ctx context.Context, name string) (map[string]string, error) {
	var raw []byte
	err := s.getDB().QueryRowContext(ctx, `SELECT params FROM tester_sessions WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", ErrInvalidData, name, err)
	}
	return values, nil
}

// SaveSession upserts a session record
func (s *PostgresStore) SaveSession(ctx context.Context, name string, values map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.getDB().ExecContext(ctx, `
        INSERT INTO tester_sessions (name, params, created_at, updated_at)
        VALUES ($1, $2, $3, $3)
        ON CONFLICT (name) DO UPDATE SET
            params = EXCLUDED.params,
            updated_at = EXCLUDED.updated_at`,
		name, raw, now,
	)
	return err
}

// DeleteSession removes a session and clears the current pointer if it
// referenced it
func (s *PostgresStore) DeleteSession(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *PostgresStore) error {
		result, err := tx.getDB().ExecContext(ctx, `DELETE FROM tester_sessions WHERE name = $1`, name)
		if err != nil {
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotFound
		}

		_, err = tx.getDB().ExecContext(ctx,
			`DELETE FROM tester_state WHERE key = $1 AND value = $2`, currentSessionKey, name)
		return err
	})
}

// CurrentSession returns the current session name
func (s *PostgresStore) CurrentSession(ctx context.Context) (string, error) {
	var name string
	err := s.getDB().QueryRowContext(ctx,
		`SELECT value FROM tester_state WHERE key = $1`, currentSessionKey).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && name == "") {
		return "", ErrNotFound
	}
	return name, err
}

// SetCurrentSession points the current session at name
func (s *PostgresStore) SetCurrentSession(ctx context.Context, name string) error {
	if name == "" {
		_, err := s.getDB().ExecContext(ctx, `DELETE FROM tester_state WHERE key = $1`, currentSessionKey)
		return err
	}

	return s.inTx(ctx, func(tx *PostgresStore) error {
		var exists bool
		err := tx.getDB().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM tester_sessions WHERE name = $1)`, name).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		_, err = tx.getDB().ExecContext(ctx, `
            INSERT INTO tester_state (key, value) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			currentSessionKey, name)
		return err
	})
}
