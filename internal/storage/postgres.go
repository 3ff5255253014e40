package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists entries in a single key/value table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore ensures the storage table exists and returns the store.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	const ddl = `
		CREATE TABLE IF NOT EXISTS storage_kv (
			key   TEXT PRIMARY KEY,
			value JSONB NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("storage: ensure table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `SELECT value FROM storage_kv WHERE key = $1`
	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	const query = `
		INSERT INTO storage_kv (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM storage_kv WHERE key = $1`
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

func (s *PostgresStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	const query = `SELECT key, value FROM storage_kv WHERE key LIKE $1 || '%'`
	rows, err := s.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
