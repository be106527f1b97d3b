package store

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/vaultsync/pkg/audit"
	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/queue"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), DefaultFileName), WithMinFreeSpace(0))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	db, err := Open(path, WithMinFreeSpace(0))
	require.NoError(t, err)

	version, err := getSchemaVersion(db.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
	require.NoError(t, db.KV().Put("k", []byte("v")))
	require.NoError(t, db.Close())

	// Reopening is a no-op migration and keeps data.
	db, err = Open(path, WithMinFreeSpace(0))
	require.NoError(t, err)
	defer db.Close()
	v, ok, err := db.KV().Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, path, db.Path())
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	db, err := Open(path, WithMinFreeSpace(0))
	require.NoError(t, err)
	_, err = db.db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path, WithMinFreeSpace(0))
	assert.ErrorContains(t, err, "newer than supported")
}

func TestKV(t *testing.T) {
	kv := openTestDB(t).KV()

	_, ok, err := kv.Get("vault/record")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Put("vault/record", []byte("one")))
	require.NoError(t, kv.Put("vault/record", []byte("two")))
	v, ok, err := kv.Get("vault/record")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(v))

	require.NoError(t, kv.Delete("vault/record"))
	require.NoError(t, kv.Delete("vault/record"))
	_, ok, err = kv.Get("vault/record")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskGuard(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), DefaultFileName), WithMinFreeSpace(1<<62))
	require.NoError(t, err)
	defer db.Close()

	err = db.KV().Put("k", []byte("v"))
	assert.ErrorIs(t, err, ErrDiskFull)

	info, err := CheckDiskSpace(t.TempDir())
	require.NoError(t, err)
	assert.Positive(t, info.Total)
}

func TestCacheStore(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Cache()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	put := func(key string, cachedAt, lastAccess time.Time) {
		t.Helper()
		require.NoError(t, s.Put(ctx, &cache.Entry{
			Partition:  "api",
			Key:        key,
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(`{"k":"` + key + `"}`),
			CachedAt:   cachedAt,
			LastAccess: lastAccess,
		}))
	}

	_, err := s.Get(ctx, "api", "missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	put("a", base, base)
	put("b", base.Add(time.Minute), base.Add(time.Minute))
	put("c", base.Add(2*time.Minute), base.Add(2*time.Minute))

	e, err := s.Get(ctx, "api", "a")
	require.NoError(t, err)
	assert.Equal(t, "application/json", e.Header.Get("Content-Type"))
	assert.Equal(t, `{"k":"a"}`, string(e.Body))
	assert.True(t, e.CachedAt.Equal(base))

	// Touching a makes b the least recently used.
	require.NoError(t, s.Touch(ctx, "api", "a", base.Add(time.Hour)))
	n, err := s.Evict(ctx, "api", time.Time{}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, "api", "b")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	// a was cached first, so it is the one past the age cutoff.
	n, err = s.Evict(ctx, "api", base, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "api", stats[0].Partition)
	assert.Equal(t, 1, stats[0].Entries)

	put("d", base, base)
	require.NoError(t, s.Delete(ctx, "api", "d"))
	n, err = s.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheStore_BacksRouter(t *testing.T) {
	s := openTestDB(t).Cache()
	calls := 0
	transport := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"image/png"}},
			Body:       http.NoBody,
			Request:    req,
		}, nil
	})
	router := cache.NewRouter(s, cache.DefaultRoutes(), cache.WithTransport(transport))
	defer router.Close()
	client := &http.Client{Transport: router}

	for i := 0; i < 2; i++ {
		resp, err := client.Get("https://cdn.example/logo.png")
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, 1, calls)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestQueueStore(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Queue()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	maxID, err := s.MaxID(ctx)
	require.NoError(t, err)
	assert.Zero(t, maxID)
	_, err = s.Head(ctx, 100)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	var ids []int64
	for _, rid := range []string{"r1", "r2", "r3"} {
		id, err := s.Append(ctx, &queue.Mutation{
			RequestID:  rid,
			Method:     http.MethodPost,
			URL:        "https://api.example/transactions",
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(`{}`),
			EnqueuedAt: at,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	head, err := s.Head(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, "r1", head.RequestID)
	assert.True(t, head.EnqueuedAt.Equal(at))
	assert.Equal(t, "application/json", head.Header.Get("Content-Type"))

	require.NoError(t, s.RecordFailure(ctx, head.ID, "connection refused"))
	require.NoError(t, s.Remove(ctx, ids[1]))
	assert.ErrorIs(t, s.Remove(ctx, ids[1]), queue.ErrNotFound)

	items, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "connection refused", items[0].LastError)
	assert.Equal(t, "r3", items[1].RequestID)

	// Removing the tail does not let its ID be reused.
	require.NoError(t, s.Remove(ctx, ids[2]))
	id, err := s.Append(ctx, &queue.Mutation{RequestID: "r4", Method: http.MethodPost, URL: "https://api.example/x", EnqueuedAt: at})
	require.NoError(t, err)
	assert.Greater(t, id, ids[2])

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueueStore_DrainThroughQueue(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Queue()
	var sent []string
	q := queue.New(s, replayFunc(func(_ context.Context, m *queue.Mutation) error {
		sent = append(sent, m.RequestID)
		return nil
	}))
	for _, p := range []string{"/a", "/b"} {
		req, err := http.NewRequest(http.MethodPost, "https://api.example"+p, nil)
		require.NoError(t, err)
		req.Header.Set(queue.IdempotencyHeader, "id"+p)
		_, err = q.Enqueue(ctx, req)
		require.NoError(t, err)
	}

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, []string{"id/a", "id/b"}, sent)
}

type replayFunc func(context.Context, *queue.Mutation) error

func (f replayFunc) Replay(ctx context.Context, m *queue.Mutation) error { return f(ctx, m) }

func TestAuditStore(t *testing.T) {
	db := openTestDB(t)
	s := db.Audit()

	_, err := s.Last()
	assert.ErrorIs(t, err, audit.ErrNoEvents)

	key, err := audit.DeviceKey(db.KV())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	l := audit.NewLogger(s, audit.WithClock(func() time.Time { return now }))
	require.NoError(t, l.SetHMACKey(key))
	for i := 0; i < 3; i++ {
		require.NoError(t, l.LogSuccess(audit.OpVaultUnlock, "", map[string]string{"n": "x"}))
		now = now.Add(time.Hour)
	}

	last, err := s.Last()
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.Chain.Sequence)

	events, err := s.List(time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Chain.Sequence)
	assert.Equal(t, int64(3), events[1].Chain.Sequence)

	events, err = s.List(time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// A fresh logger on the same store resumes the chain and verifies it.
	resumed := audit.NewLogger(s)
	require.NoError(t, resumed.SetHMACKey(key))
	result, err := resumed.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid, result.Errors)
	assert.Equal(t, 3, result.RecordsVerified)

	// Tampering with a stored row is detected.
	_, err = db.db.Exec(`UPDATE audit_events SET data = json_set(data, '$.result', 'error') WHERE seq = 2`)
	require.NoError(t, err)
	result, err = resumed.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)

	n, err := s.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnixNanoRoundTrip(t *testing.T) {
	assert.Zero(t, unixNano(time.Time{}))
	assert.True(t, fromUnixNano(0).IsZero())
	at := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	assert.True(t, at.Equal(fromUnixNano(unixNano(at))))
}
