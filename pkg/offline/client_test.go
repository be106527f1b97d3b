package offline

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/queue"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// server is a scripted upstream that can be switched offline.
type server struct {
	mu       sync.Mutex
	online   bool
	status   int
	requests []recorded
}

type recorded struct {
	method, path, key, body string
}

func (s *server) setOnline(v bool) {
	s.mu.Lock()
	s.online = v
	s.mu.Unlock()
}

func (s *server) received() []recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recorded(nil), s.requests...)
}

func (s *server) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	}
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	s.requests = append(s.requests, recorded{
		method: req.Method,
		path:   req.URL.Path,
		key:    req.Header.Get(queue.IdempotencyHeader),
		body:   body,
	})
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
		Request:    req,
	}, nil
}

func newTestClient(t *testing.T, srv *server, opts ...Option) (*Client, *queue.Queue) {
	t.Helper()
	router := cache.NewRouter(cache.NewMemoryStore(), cache.DefaultRoutes(), cache.WithTransport(srv))
	t.Cleanup(func() { router.Close() })
	q := queue.New(queue.NewMemoryStore(), queue.NewHTTPReplayer(&http.Client{Transport: srv}))
	return New(router, q, opts...), q
}

func newPost(t *testing.T, path, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.example"+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestQueueable(t *testing.T) {
	c := New(http.DefaultTransport, nil)
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/transactions", true},
		{http.MethodPut, "/api/transactions/42", true},
		{http.MethodGet, "/api/transactions", false},
		{http.MethodPost, "/api/profile", false},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, "https://api.example"+tt.path, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Queueable(req), "%s %s", tt.method, tt.path)
	}
}

func TestSubmit_Online(t *testing.T) {
	srv := &server{online: true}
	c, q := newTestClient(t, srv)

	res, err := c.Submit(context.Background(), newPost(t, "/api/transactions", `{"amount":5}`))
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	defer res.Response.Body.Close()
	assert.False(t, res.Queued)

	body, err := io.ReadAll(res.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, `{"amount":5}`, reqs[0].body)
	assert.NotEmpty(t, reqs[0].key)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmit_OfflineQueuesAndReplaysWithSameKey(t *testing.T) {
	srv := &server{}
	c, q := newTestClient(t, srv)

	res, err := c.Submit(context.Background(), newPost(t, "/api/transactions", `{"amount":7}`))
	require.NoError(t, err)
	assert.True(t, res.Queued)
	require.NotNil(t, res.Mutation)
	assert.Equal(t, `{"amount":7}`, string(res.Mutation.Body))
	key := res.Mutation.RequestID

	srv.setOnline(true)
	report, err := c.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, key, reqs[0].key)
	assert.Equal(t, `{"amount":7}`, reqs[0].body)
	assert.Equal(t, "application/json", res.Mutation.Header.Get("Content-Type"))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmit_RejectionIsNotQueued(t *testing.T) {
	srv := &server{online: true, status: http.StatusInternalServerError}
	c, q := newTestClient(t, srv)

	_, err := c.Submit(context.Background(), newPost(t, "/api/transactions", `{}`))
	var rej *netstate.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusInternalServerError, rej.StatusCode)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmit_UndesignatedRequestFailsOffline(t *testing.T) {
	srv := &server{}
	c, q := newTestClient(t, srv)

	_, err := c.Submit(context.Background(), newPost(t, "/api/profile", `{}`))
	require.Error(t, err)
	assert.True(t, netstate.IsConnectivityError(err))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmit_TimeoutQueues(t *testing.T) {
	slow := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	q := queue.New(queue.NewMemoryStore(), nil)
	c := New(slow, q, WithRequestTimeout(20*time.Millisecond))

	res, err := c.Submit(context.Background(), newPost(t, "/api/transactions", `{"amount":1}`))
	require.NoError(t, err)
	assert.True(t, res.Queued)
}

func TestSubmit_CancelledByCallerIsNotQueued(t *testing.T) {
	started := make(chan struct{})
	slow := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		close(started)
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	q := queue.New(queue.NewMemoryStore(), nil)
	c := New(slow, q)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := c.Submit(ctx, newPost(t, "/api/transactions", `{"amount":1}`))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFetch_AppliesRequestTimeout(t *testing.T) {
	stalled := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	router := cache.NewRouter(cache.NewMemoryStore(), cache.DefaultRoutes(),
		cache.WithTransport(stalled),
		cache.WithNetworkTimeout(time.Second))
	t.Cleanup(func() { router.Close() })
	c := New(router, queue.New(queue.NewMemoryStore(), nil), WithRequestTimeout(50*time.Millisecond))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), "https://cdn.example/img/logo.png")
		errc <- err
	}()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.True(t, netstate.IsConnectivityError(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch ignored the request timeout")
	}
}

func TestFetch_BodyReadableAfterReturn(t *testing.T) {
	srv := &server{online: true}
	c, _ := newTestClient(t, srv)

	// Unrouted GETs stream from the network; the body must survive the
	// request timeout being released.
	resp, err := c.Fetch(context.Background(), "https://api.example/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, cache.StatusBypass, resp.Header.Get(cache.StatusHeader))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestFetch_ServesCacheWhenOffline(t *testing.T) {
	srv := &server{online: true}
	c, _ := newTestClient(t, srv)
	ctx := context.Background()

	resp, err := c.Fetch(ctx, "https://cdn.example/static/app.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, cache.StatusMiss, resp.Header.Get(cache.StatusHeader))

	srv.setOnline(false)
	resp, err = c.Fetch(ctx, "https://cdn.example/static/app.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, cache.StatusHit, resp.Header.Get(cache.StatusHeader))

	_, err = c.Fetch(ctx, "https://cdn.example/static/other.js")
	require.Error(t, err)
	assert.True(t, netstate.IsConnectivityError(err))
}

func TestRun_DrainsOnReconnect(t *testing.T) {
	srv := &server{}
	var drains atomic.Int32
	drained := make(chan *queue.DrainReport, 4)
	c, q := newTestClient(t, srv,
		WithReconnectBackoff(time.Millisecond, 5*time.Millisecond),
		WithDrainFunc(func(r *queue.DrainReport, err error) {
			drains.Add(1)
			if err == nil {
				drained <- r
			}
		}))
	ctx := context.Background()

	for _, amount := range []string{"1", "2"} {
		res, err := c.Submit(ctx, newPost(t, "/api/transactions", `{"amount":`+amount+`}`))
		require.NoError(t, err)
		require.True(t, res.Queued)
	}

	src := netstate.NewManualSource()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, src) }()

	srv.setOnline(true)
	src.SetOnline(true)

	select {
	case r := <-drained:
		assert.Equal(t, 2, r.Delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not drained")
	}
	src.Close()
	require.NoError(t, <-errc)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	reqs := srv.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, `{"amount":1}`, reqs[0].body)
	assert.Equal(t, `{"amount":2}`, reqs[1].body)
	assert.Positive(t, drains.Load())
}

func TestRun_RetriesUntilServerReachable(t *testing.T) {
	srv := &server{}
	drained := make(chan struct{})
	var once sync.Once
	c, _ := newTestClient(t, srv,
		WithReconnectBackoff(time.Millisecond, 5*time.Millisecond),
		WithDrainFunc(func(r *queue.DrainReport, err error) {
			var de *queue.DrainError
			if errors.As(err, &de) {
				// First failure: the signal was a false positive. Bring the
				// server up so a retry succeeds.
				srv.setOnline(true)
				return
			}
			if err == nil && r.Delivered == 1 {
				once.Do(func() { close(drained) })
			}
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := c.Submit(ctx, newPost(t, "/api/transactions", `{}`))
	require.NoError(t, err)
	require.True(t, res.Queued)

	src := netstate.NewManualSource()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, src) }()
	src.SetOnline(true)

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("drain was not retried")
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
