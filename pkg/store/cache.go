package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/forest6511/vaultsync/pkg/cache"
)

// CacheStore implements cache.Store on the cache_entries table.
type CacheStore struct {
	d *DB
}

var _ cache.Store = (*CacheStore)(nil)

// Get implements cache.Store.
func (s *CacheStore) Get(ctx context.Context, partition, key string) (*cache.Entry, error) {
	var (
		e                    cache.Entry
		header               string
		cachedAt, lastAccess int64
	)
	err := s.d.db.QueryRowContext(ctx, `
		SELECT status_code, header, body, cached_at, last_access
		FROM cache_entries WHERE partition = ? AND key = ?
	`, partition, key).Scan(&e.StatusCode, &header, &e.Body, &cachedAt, &lastAccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("store: corrupt cache header: %w", err)
	}
	e.Partition = partition
	e.Key = key
	e.CachedAt = fromUnixNano(cachedAt)
	e.LastAccess = fromUnixNano(lastAccess)
	return &e, nil
}

// Put implements cache.Store.
func (s *CacheStore) Put(ctx context.Context, e *cache.Entry) error {
	if err := s.d.ensureSpace(); err != nil {
		return err
	}
	header := e.Header
	if header == nil {
		header = http.Header{}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("store: failed to encode cache header: %w", err)
	}
	_, err = s.d.db.ExecContext(ctx, `
		INSERT INTO cache_entries (partition, key, status_code, header, body, cached_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET
			status_code = excluded.status_code,
			header = excluded.header,
			body = excluded.body,
			cached_at = excluded.cached_at,
			last_access = excluded.last_access
	`, e.Partition, e.Key, e.StatusCode, string(hdr), e.Body, unixNano(e.CachedAt), unixNano(e.LastAccess))
	if err != nil {
		return fmt.Errorf("store: failed to write cache entry: %w", err)
	}
	return nil
}

// Touch implements cache.Store.
func (s *CacheStore) Touch(ctx context.Context, partition, key string, at time.Time) error {
	_, err := s.d.db.ExecContext(ctx,
		"UPDATE cache_entries SET last_access = ? WHERE partition = ? AND key = ?",
		unixNano(at), partition, key)
	if err != nil {
		return fmt.Errorf("store: failed to touch cache entry: %w", err)
	}
	return nil
}

// Delete implements cache.Store.
func (s *CacheStore) Delete(ctx context.Context, partition, key string) error {
	_, err := s.d.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE partition = ? AND key = ?", partition, key)
	if err != nil {
		return fmt.Errorf("store: failed to delete cache entry: %w", err)
	}
	return nil
}

// Evict implements cache.Store.
func (s *CacheStore) Evict(ctx context.Context, partition string, expiredBefore time.Time, maxEntries int) (int, error) {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: failed to begin eviction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	if !expiredBefore.IsZero() {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM cache_entries WHERE partition = ? AND cached_at <= ?",
			partition, expiredBefore.UnixNano())
		if err != nil {
			return 0, fmt.Errorf("store: failed to evict expired entries: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	if maxEntries > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE partition = ? AND key IN (
				SELECT key FROM cache_entries WHERE partition = ?
				ORDER BY last_access DESC LIMIT -1 OFFSET ?
			)
		`, partition, partition, maxEntries)
		if err != nil {
			return 0, fmt.Errorf("store: failed to evict over-capacity entries: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: failed to commit eviction: %w", err)
	}
	return removed, nil
}

// Stats implements cache.Store.
func (s *CacheStore) Stats(ctx context.Context) ([]cache.PartitionStats, error) {
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT partition, COUNT(*), COALESCE(SUM(LENGTH(body)), 0), MIN(cached_at), MAX(cached_at)
		FROM cache_entries GROUP BY partition ORDER BY partition
	`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read cache stats: %w", err)
	}
	defer rows.Close()

	var stats []cache.PartitionStats
	for rows.Next() {
		var (
			st             cache.PartitionStats
			oldest, newest int64
		)
		if err := rows.Scan(&st.Partition, &st.Entries, &st.Bytes, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("store: failed to scan cache stats: %w", err)
		}
		st.Oldest = fromUnixNano(oldest)
		st.Newest = fromUnixNano(newest)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Clear implements cache.Store.
func (s *CacheStore) Clear(ctx context.Context, partition string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if partition == "" {
		res, err = s.d.db.ExecContext(ctx, "DELETE FROM cache_entries")
	} else {
		res, err = s.d.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE partition = ?", partition)
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
