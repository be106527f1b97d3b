// Package store provides the durable SQLite backend shared by the vault, the
// HTTP cache, the offline write queue and the audit trail.
//
// A single database file holds four tables, one per consumer. Each consumer
// gets a typed view (KV, Cache, Queue, Audit) that implements the store
// interface declared by its package. The connection pool is limited to one
// connection, so every write is serialized.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "vaultsync.db"

const busyTimeout = 5 * time.Second

// Errors
var (
	ErrDiskFull = errors.New("store: insufficient disk space")
)

// DB is an open store.
type DB struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// minFree is the free-space floor checked before writes; 0 disables it.
	minFree uint64
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// WithMinFreeSpace overrides the free-space floor. Zero disables the check.
func WithMinFreeSpace(bytes uint64) Option {
	return func(d *DB) { d.minFree = bytes }
}

// Open opens (creating if needed) the database at path and migrates it to
// the current schema. The parent directory is created with 0700.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{
		path:    path,
		logger:  zap.NewNop(),
		minFree: MinDiskSpaceBytes,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to connect to database: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("failed to restrict database permissions", zap.Error(err))
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	d.db = db
	d.logger.Debug("store opened", zap.String("path", path))
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// KV returns the key-value view used by the vault and the audit device key.
func (d *DB) KV() *KV { return &KV{d: d} }

// Cache returns the cache.Store view.
func (d *DB) Cache() *CacheStore { return &CacheStore{d: d} }

// Queue returns the queue.Store view.
func (d *DB) Queue() *QueueStore { return &QueueStore{d: d} }

// Audit returns the audit.Store view.
func (d *DB) Audit() *AuditStore { return &AuditStore{d: d} }

// ensureSpace refuses writes when the volume is nearly full. A failed
// statfs does not block the write.
func (d *DB) ensureSpace() error {
	if d.minFree == 0 {
		return nil
	}
	info, err := CheckDiskSpace(filepath.Dir(d.path))
	if err != nil {
		d.logger.Warn("failed to check disk space", zap.Error(err))
		return nil
	}
	if info.Available < d.minFree {
		return fmt.Errorf("%w: %d bytes available, need %d", ErrDiskFull, info.Available, d.minFree)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
