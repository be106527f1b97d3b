// Package cache provides a caching HTTP transport that classifies GET requests
// into named partitions and serves them with a per-partition strategy:
// cache-first, network-first or stale-while-revalidate.
//
// Each partition enforces its own entry cap (LRU by last access) and maximum
// age. Eviction happens on every write; there is no background sweeper.
//
// # Example Usage
//
//	router := cache.NewRouter(store, cache.DefaultRoutes(),
//		cache.WithTransport(http.DefaultTransport))
//	defer router.Close()
//
//	client := &http.Client{Transport: router}
//	resp, err := client.Get("https://example.com/static/app.3f9a.js")
package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// StatusHeader is set on every response returned by the Router.
const StatusHeader = "X-Cache-Status"

// Values of StatusHeader.
const (
	StatusHit      = "hit"      // Served from a fresh cache entry
	StatusMiss     = "miss"     // Fetched from the network
	StatusStale    = "stale"    // Served from cache while a refresh runs
	StatusFallback = "fallback" // Network failed, served from cache
	StatusBypass   = "bypass"   // Not handled by any route
)

// Errors
var (
	ErrNotFound        = errors.New("cache: entry not found")
	ErrUnknownStrategy = errors.New("cache: unknown strategy")
	ErrInvalidRoute    = errors.New("cache: invalid route")
)

// Strategy selects how a route balances freshness against latency.
type Strategy string

// Supported strategies.
const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate:
		return true
	default:
		return false
	}
}

// Entry is one cached response.
type Entry struct {
	Partition  string
	Key        string
	StatusCode int
	Header     http.Header
	Body       []byte
	CachedAt   time.Time
	LastAccess time.Time
}

// PartitionStats summarizes one partition.
type PartitionStats struct {
	Partition string    `json:"partition"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	Oldest    time.Time `json:"oldest,omitempty"`
	Newest    time.Time `json:"newest,omitempty"`
}

// Store persists cache entries keyed by (partition, key).
type Store interface {
	// Get returns ErrNotFound when no entry exists.
	Get(ctx context.Context, partition, key string) (*Entry, error)
	// Put inserts or replaces an entry.
	Put(ctx context.Context, e *Entry) error
	// Touch updates LastAccess.
	Touch(ctx context.Context, partition, key string, at time.Time) error
	Delete(ctx context.Context, partition, key string) error
	// Evict removes entries cached at or before expiredBefore (when non-zero),
	// then the least recently accessed entries beyond maxEntries (when positive).
	Evict(ctx context.Context, partition string, expiredBefore time.Time, maxEntries int) (int, error)
	Stats(ctx context.Context) ([]PartitionStats, error)
	// Clear removes every entry in partition, or all entries when partition is empty.
	Clear(ctx context.Context, partition string) (int, error)
}
