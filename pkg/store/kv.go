package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KV is a byte-valued key-value table.
type KV struct {
	d *DB
}

// Get returns the value for key and whether it exists.
func (kv *KV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := kv.d.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: failed to read %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (kv *KV) Put(key string, value []byte) error {
	if err := kv.d.ensureSpace(); err != nil {
		return err
	}
	_, err := kv.d.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(key string) error {
	if _, err := kv.d.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("store: failed to delete %s: %w", key, err)
	}
	return nil
}
