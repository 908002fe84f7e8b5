// ABOUTME: This file implements the namespaced key-value store on postgres
// ABOUTME: Provides atomic per-key operations plus time-range enumeration and pruning
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrKeyNotFound indicates the requested key does not exist in the namespace.
var ErrKeyNotFound = errors.New("key not found")

// KVEntry is a single stored record with its last-write timestamp.
type KVEntry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// KVStore is a namespaced key-value store backed by a single postgres
// table. Individual Get/Set/Delete operations are atomic per key.
type KVStore struct {
	pool *pgxpool.Pool
}

// NewKVStore creates a KVStore over the given pool.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

// Get returns the value stored under (namespace, key).
func (s *KVStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM engine_kv WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Set writes value under (namespace, key), overwriting any previous value.
// The write is durable once Set returns nil.
func (s *KVStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_kv (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		namespace, key, value)
	if err != nil {
		return fmt.Errorf("kv set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes (namespace, key). Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM engine_kv WHERE namespace = $1 AND key = $2`,
		namespace, key)
	if err != nil {
		return fmt.Errorf("kv delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// ListRecent returns up to limit entries in the namespace, most recently
// written first.
func (s *KVStore) ListRecent(ctx context.Context, namespace string, limit int) ([]KVEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, updated_at FROM engine_kv
		 WHERE namespace = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("kv list recent %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListSince returns all entries in the namespace written at or after since,
// oldest first.
func (s *KVStore) ListSince(ctx context.Context, namespace string, since time.Time) ([]KVEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, updated_at FROM engine_kv
		 WHERE namespace = $1 AND updated_at >= $2
		 ORDER BY updated_at ASC`,
		namespace, since)
	if err != nil {
		return nil, fmt.Errorf("kv list since %s: %w", namespace, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeleteBefore removes all entries in the namespace written before the
// cutoff and returns the number of rows removed.
func (s *KVStore) DeleteBefore(ctx context.Context, namespace string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM engine_kv WHERE namespace = $1 AND updated_at < $2`,
		namespace, before)
	if err != nil {
		return 0, fmt.Errorf("kv delete before %s: %w", namespace, err)
	}
	return tag.RowsAffected(), nil
}

func scanEntries(rows pgx.Rows) ([]KVEntry, error) {
	var entries []KVEntry
	for rows.Next() {
		var e KVEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kv scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv rows: %w", err)
	}
	return entries, nil
}
