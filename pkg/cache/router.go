package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Router defaults.
const (
	// DefaultNetworkTimeout bounds a network fetch for routes without their
	// own NetworkTimeout.
	DefaultNetworkTimeout = 30 * time.Second

	// DefaultCloseTimeout is how long Close lets running revalidations
	// finish before cancelling them.
	DefaultCloseTimeout = 2 * time.Second
)

// Router is an http.RoundTripper that serves matched GET requests through a
// partitioned cache. Requests that match no route, and every non-GET
// request, go straight to the underlying transport.
type Router struct {
	store  Store
	next   http.RoundTripper
	routes []Route
	logger *zap.Logger
	now    func() time.Time

	timeout      time.Duration
	closeTimeout time.Duration

	group singleflight.Group

	// Background revalidations
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	bgMu     sync.Mutex
	closed   bool
}

// Option configures a Router.
type Option func(*Router)

// WithTransport sets the network transport. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Router) { r.next = rt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithNetworkTimeout sets the fetch timeout for routes that do not set
// their own. Defaults to DefaultNetworkTimeout.
func WithNetworkTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithCloseTimeout sets how long Close waits for running revalidations.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Router) { r.closeTimeout = d }
}

// NewRouter creates a Router. Routes are evaluated in order.
func NewRouter(store Store, routes []Route, opts ...Option) *Router {
	r := &Router{
		store:  store,
		next:   http.DefaultTransport,
		routes: routes,
		logger: zap.NewNop(),
		now:    time.Now,

		timeout:      DefaultNetworkTimeout,
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bgCtx, r.bgCancel = context.WithCancel(context.Background())
	return r
}

// Routes returns the configured routes.
func (r *Router) Routes() []Route {
	return r.routes
}

// Stats returns per-partition statistics from the store.
func (r *Router) Stats(ctx context.Context) ([]PartitionStats, error) {
	return r.store.Stats(ctx)
}

// Clear removes cached entries for one partition, or all when partition is empty.
func (r *Router) Clear(ctx context.Context, partition string) (int, error) {
	return r.store.Clear(ctx, partition)
}

// Close stops accepting background revalidations and gives the running ones
// up to the close timeout to finish. Whatever is still running after that is
// cancelled.
func (r *Router) Close() error {
	r.bgMu.Lock()
	r.closed = true
	r.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.bgWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.closeTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		r.logger.Debug("cancelling background revalidations")
		r.bgCancel()
		<-done
	}
	r.bgCancel()
	return nil
}

// Route returns the first route matching req, or nil.
func (r *Router) Route(req *http.Request) *Route {
	if req.Method != http.MethodGet || req.Header.Get("Range") != "" {
		return nil
	}
	for i := range r.routes {
		if r.routes[i].Match.Match(req.URL) {
			return &r.routes[i]
		}
	}
	return nil
}

// RoundTrip implements http.RoundTripper.
func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	route := r.Route(req)
	if route == nil {
		resp, err := r.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		resp.Header.Set(StatusHeader, StatusBypass)
		return resp, nil
	}

	key := CacheKey(req.URL)
	switch route.Strategy {
	case CacheFirst:
		return r.cacheFirst(req, route, key)
	case NetworkFirst:
		return r.networkFirst(req, route, key)
	case StaleWhileRevalidate:
		return r.staleWhileRevalidate(req, route, key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, route.Strategy)
	}
}

func (r *Router) cacheFirst(req *http.Request, route *Route, key string) (*http.Response, error) {
	if e := r.lookup(req.Context(), route, key); e != nil {
		return entryResponse(req, e, StatusHit), nil
	}
	e, err := r.fetch(req.Context(), context.WithoutCancel(req.Context()), req, route, key)
	if err != nil {
		return nil, err
	}
	return entryResponse(req, e, StatusMiss), nil
}

func (r *Router) networkFirst(req *http.Request, route *Route, key string) (*http.Response, error) {
	e, err := r.fetch(req.Context(), context.WithoutCancel(req.Context()), req, route, key)
	if err == nil {
		return entryResponse(req, e, StatusMiss), nil
	}
	if cached := r.lookup(req.Context(), route, key); cached != nil {
		r.logger.Debug("network failed, serving cached entry",
			zap.String("partition", route.Name),
			zap.String("key", redactKey(key)),
			zap.Error(err))
		return entryResponse(req, cached, StatusFallback), nil
	}
	return nil, err
}

func (r *Router) staleWhileRevalidate(req *http.Request, route *Route, key string) (*http.Response, error) {
	cached := r.lookup(req.Context(), route, key)
	if cached == nil {
		return r.networkFirst(req, route, key)
	}
	r.revalidate(req, route, key)
	return entryResponse(req, cached, StatusStale), nil
}

// revalidate refreshes key in the background. Concurrent refreshes of the
// same key share one fetch.
func (r *Router) revalidate(req *http.Request, route *Route, key string) {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.closed {
		return
	}
	bgReq := req.Clone(r.bgCtx)
	r.bgWG.Add(1)
	go func() {
		defer r.bgWG.Done()
		if _, err := r.fetch(r.bgCtx, r.bgCtx, bgReq, route, key); err != nil {
			r.logger.Debug("background revalidation failed",
				zap.String("partition", route.Name),
				zap.String("key", redactKey(key)),
				zap.Error(err))
		}
	}()
}

// lookup returns a fresh entry or nil. Expired entries are deleted, and a
// hit refreshes the entry's LRU position.
func (r *Router) lookup(ctx context.Context, route *Route, key string) *Entry {
	e, err := r.store.Get(ctx, route.Name, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("cache read failed", zap.String("partition", route.Name), zap.Error(err))
		}
		return nil
	}
	now := r.now()
	if route.expired(e.CachedAt, now) {
		if err := r.store.Delete(ctx, route.Name, key); err != nil {
			r.logger.Warn("failed to delete expired entry", zap.String("partition", route.Name), zap.Error(err))
		}
		return nil
	}
	if err := r.store.Touch(ctx, route.Name, key, now); err != nil {
		r.logger.Warn("failed to touch entry", zap.String("partition", route.Name), zap.Error(err))
	}
	return e
}

// fetch performs the network request, coalescing concurrent fetches of the
// same key, and stores cacheable responses. The body is read in full so
// that every caller sharing the flight gets its own copy.
//
// The flight runs on base bounded by the network timeout, so it outlives a
// caller that gives up. Each caller waits only as long as its own ctx.
func (r *Router) fetch(ctx, base context.Context, req *http.Request, route *Route, key string) (*Entry, error) {
	ch := r.group.DoChan(route.Name+"\x00"+key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(base, r.networkTimeout(route))
		defer cancel()

		resp, err := r.next.RoundTrip(req.Clone(fctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		now := r.now()
		e := &Entry{
			Partition:  route.Name,
			Key:        key,
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
			CachedAt:   now,
			LastAccess: now,
		}
		if cacheable(resp) {
			r.put(fctx, route, e)
		}
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Router) networkTimeout(route *Route) time.Duration {
	switch {
	case route.NetworkTimeout > 0:
		return route.NetworkTimeout
	case r.timeout > 0:
		return r.timeout
	default:
		return DefaultNetworkTimeout
	}
}

// put writes e and then enforces the partition's limits.
func (r *Router) put(ctx context.Context, route *Route, e *Entry) {
	// The fetch deadline must not cut the write short.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Put(ctx, e); err != nil {
		r.logger.Warn("cache write failed", zap.String("partition", route.Name), zap.Error(err))
		return
	}
	var expiredBefore time.Time
	if route.MaxAge > 0 {
		expiredBefore = e.CachedAt.Add(-route.MaxAge)
	}
	n, err := r.store.Evict(ctx, route.Name, expiredBefore, route.MaxEntries)
	if err != nil {
		r.logger.Warn("cache eviction failed", zap.String("partition", route.Name), zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Debug("evicted entries", zap.String("partition", route.Name), zap.Int("count", n))
	}
}

// cacheable reports whether a response may be stored: 2xx except 206, and
// not marked no-store.
func cacheable(resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.StatusCode == http.StatusPartialContent {
		return false
	}
	return !strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store")
}

func entryResponse(req *http.Request, e *Entry, status string) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(StatusHeader, status)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// CacheKey returns the cache key for a GET of u: the method plus the URL with
// lower-cased scheme and host, sorted query and no fragment.
func CacheKey(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	if c.RawQuery != "" {
		c.RawQuery = c.Query().Encode()
	}
	return http.MethodGet + " " + c.String()
}

// redactKey drops the query string so tokens in URLs never reach the log.
func redactKey(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		return key[:i]
	}
	return key
}
