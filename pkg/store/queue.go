package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/forest6511/vaultsync/pkg/queue"
)

// QueueStore implements queue.Store on the offline_queue table. IDs come
// from AUTOINCREMENT, so they are never reused after a delete.
type QueueStore struct {
	d *DB
}

var _ queue.Store = (*QueueStore)(nil)

const queueColumns = "id, request_id, method, url, header, body, enqueued_at, attempts, last_error"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*queue.Mutation, error) {
	var (
		m          queue.Mutation
		header     string
		enqueuedAt int64
	)
	if err := row.Scan(&m.ID, &m.RequestID, &m.Method, &m.URL, &header, &m.Body,
		&enqueuedAt, &m.Attempts, &m.LastError); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(header), &m.Header); err != nil {
		return nil, fmt.Errorf("store: corrupt mutation header: %w", err)
	}
	m.EnqueuedAt = fromUnixNano(enqueuedAt)
	return &m, nil
}

// Append implements queue.Store.
func (s *QueueStore) Append(ctx context.Context, m *queue.Mutation) (int64, error) {
	if err := s.d.ensureSpace(); err != nil {
		return 0, err
	}
	header := m.Header
	if header == nil {
		header = http.Header{}
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("store: failed to encode mutation header: %w", err)
	}
	res, err := s.d.db.ExecContext(ctx, `
		INSERT INTO offline_queue (request_id, method, url, header, body, enqueued_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RequestID, m.Method, m.URL, string(hdr), m.Body, unixNano(m.EnqueuedAt), m.Attempts, m.LastError)
	if err != nil {
		return 0, fmt.Errorf("store: failed to append mutation: %w", err)
	}
	return res.LastInsertId()
}

// Head implements queue.Store.
func (s *QueueStore) Head(ctx context.Context, maxID int64) (*queue.Mutation, error) {
	row := s.d.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM offline_queue WHERE id <= ? ORDER BY id LIMIT 1", maxID)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read queue head: %w", err)
	}
	return m, nil
}

// MaxID implements queue.Store.
func (s *QueueStore) MaxID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) FROM offline_queue").Scan(&id); err != nil {
		return 0, fmt.Errorf("store: failed to read queue tail: %w", err)
	}
	return id, nil
}

// Remove implements queue.Store.
func (s *QueueStore) Remove(ctx context.Context, id int64) error {
	res, err := s.d.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: failed to remove mutation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// RecordFailure implements queue.Store.
func (s *QueueStore) RecordFailure(ctx context.Context, id int64, lastErr string) error {
	res, err := s.d.db.ExecContext(ctx,
		"UPDATE offline_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?", lastErr, id)
	if err != nil {
		return fmt.Errorf("store: failed to record attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// List implements queue.Store.
func (s *QueueStore) List(ctx context.Context) ([]*queue.Mutation, error) {
	rows, err := s.d.db.QueryContext(ctx, "SELECT "+queueColumns+" FROM offline_queue ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []*queue.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: failed to scan mutation: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Len implements queue.Store.
func (s *QueueStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offline_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: failed to count queue: %w", err)
	}
	return n, nil
}
