package store

import (
	"context"
	"database/sql"
)

// KVStore is a string key/value store scoped to one namespace of the kv
// table. Writes are last-write-wins per key.
type KVStore struct {
	db    *sql.DB
	scope string
}

func NewKVStore(db *sql.DB, scope string) *KVStore {
	return &KVStore{db: db, scope: scope}
}

// Get returns the value for key and whether it was present.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE scope = ? AND key = ?`, s.scope, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (scope, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		s.scope, key, value,
	)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE scope = ? AND key = ?`, s.scope, key)
	if err != nil {
		return &StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Clear removes every key in the scope.
func (s *KVStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE scope = ?`, s.scope)
	if err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}
