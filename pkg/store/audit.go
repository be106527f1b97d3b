package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forest6511/vaultsync/pkg/audit"
)

// AuditStore implements audit.Store on the audit_events table. Each event
// is kept as its JSON encoding; seq and ts are copied out for ordering and
// filtering.
type AuditStore struct {
	d *DB
}

var _ audit.Store = (*AuditStore)(nil)

// Append implements audit.Store.
func (s *AuditStore) Append(e *audit.Event) error {
	if err := s.d.ensureSpace(); err != nil {
		return err
	}
	ts, err := e.Time()
	if err != nil {
		return fmt.Errorf("store: invalid audit timestamp: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: failed to encode audit event: %w", err)
	}
	_, err = s.d.db.Exec("INSERT INTO audit_events (seq, ts, op, data) VALUES (?, ?, ?, ?)",
		e.Chain.Sequence, ts.UnixNano(), e.Operation, string(data))
	if err != nil {
		return fmt.Errorf("store: failed to append audit event: %w", err)
	}
	return nil
}

func decodeEvent(data []byte) (audit.Event, error) {
	var e audit.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("store: corrupt audit event: %w", err)
	}
	return e, nil
}

// Last implements audit.Store.
func (s *AuditStore) Last() (*audit.Event, error) {
	var data []byte
	err := s.d.db.QueryRow("SELECT data FROM audit_events ORDER BY seq DESC LIMIT 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNoEvents
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read last audit event: %w", err)
	}
	e, err := decodeEvent(data)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List implements audit.Store.
func (s *AuditStore) List(since time.Time, limit int) ([]audit.Event, error) {
	query := "SELECT data FROM audit_events WHERE ts > ? ORDER BY seq DESC"
	args := []any{unixNano(since)}
	if since.IsZero() {
		query = "SELECT data FROM audit_events ORDER BY seq DESC"
		args = nil
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: failed to scan audit event: %w", err)
		}
		e, err := decodeEvent(data)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Rows were read newest first so LIMIT keeps the most recent.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Prune implements audit.Store.
func (s *AuditStore) Prune(through int64) (int, error) {
	res, err := s.d.db.Exec("DELETE FROM audit_events WHERE seq <= ?", through)
	if err != nil {
		return 0, fmt.Errorf("store: failed to prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
