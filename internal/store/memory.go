package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// MemorizeEntry upserts a (scope, key) -> value memory fact (spec: memorize).
func (s *Store) MemorizeEntry(ctx context.Context, scope model.MemoryScope, key, value string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_entries (scope, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
		`, string(scope), key, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("memorize entry: %w", err)
		}
		return nil
	})
}

// RecallEntry returns the value for (scope, key), or "" if absent (spec: recall).
func (s *Store) RecallEntry(ctx context.Context, scope model.MemoryScope, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory_entries WHERE scope = ? AND key = ?;`, string(scope), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("recall entry: %w", err)
	}
	return value, nil
}

// RecallByPrefix returns every key/value pair in scope whose key contains
// query, supporting RECALL's free-text query argument (spec: recall).
func (s *Store) RecallByPrefix(ctx context.Context, scope model.MemoryScope, query string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM memory_entries
		WHERE scope = ? AND (key LIKE '%' || ? || '%' OR value LIKE '%' || ? || '%')
		ORDER BY key ASC;
	`, string(scope), query, query)
	if err != nil {
		return nil, fmt.Errorf("recall by prefix: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ForgetEntry deletes a (scope, key) memory fact (spec: forget).
func (s *Store) ForgetEntry(ctx context.Context, scope model.MemoryScope, key string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE scope = ? AND key = ?;`, string(scope), key)
		if err != nil {
			return fmt.Errorf("forget entry: %w", err)
		}
		return nil
	})
}
