// Package offline ties the cache router, the offline write queue and the
// connectivity watcher into one client.
//
// Reads go through the cache router. Designated mutating requests are sent
// directly; when the server cannot be reached they are queued and replayed
// in order once connectivity returns. Requests the server rejects are
// surfaced to the caller and never queued.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/cache"
	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/queue"
)

// DefaultRequestTimeout bounds every request the client sends.
const DefaultRequestTimeout = 10 * time.Second

// DefaultMutationPatterns lists the path globs whose writes are queued when
// offline.
var DefaultMutationPatterns = []string{"/api/transactions*"}

// SubmitResult reports what happened to a submitted request.
type SubmitResult struct {
	// Queued is true when the request was saved for later replay.
	Queued   bool
	Mutation *queue.Mutation
	// Response is the live server response when the request was delivered.
	// The caller must close its body.
	Response *http.Response
}

// DrainFunc observes every drain the watcher runs.
type DrainFunc func(report *queue.DrainReport, err error)

// Client is the offline-aware HTTP client.
type Client struct {
	http     *http.Client
	queue    *queue.Queue
	patterns []string
	timeout  time.Duration
	logger   *zap.Logger
	onDrain  DrainFunc
	backoff  [2]time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMutationPatterns sets the path globs whose writes are queued offline.
func WithMutationPatterns(patterns []string) Option {
	return func(c *Client) { c.patterns = patterns }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDrainFunc registers a callback for drains run by Run.
func WithDrainFunc(fn DrainFunc) Option {
	return func(c *Client) { c.onDrain = fn }
}

// WithReconnectBackoff sets the watcher's retry base and cap.
func WithReconnectBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) { c.backoff = [2]time.Duration{base, maxDelay} }
}

// New creates a Client. transport is normally a *cache.Router.
func New(transport http.RoundTripper, q *queue.Queue, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Transport: transport},
		queue:    q,
		patterns: DefaultMutationPatterns,
		timeout:  DefaultRequestTimeout,
		logger:   zap.NewNop(),
		backoff:  [2]time.Duration{netstate.DefaultRetryBase, netstate.DefaultRetryCap},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs a GET through the transport with the client timeout. The
// response carries the X-Cache-Status header when served by the cache
// router, and its body is fully buffered.
func (c *Client) Fetch(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("offline: invalid URL: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, netstate.Classify("fetch", err)
	}
	if err := detachBody(resp); err != nil {
		return nil, netstate.Classify("fetch", err)
	}
	return resp, nil
}

// detachBody reads resp.Body into memory so it stays readable after the
// request context is cancelled.
func detachBody(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return nil
}

// Queueable reports whether req is a designated mutating request.
func (c *Client) Queueable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	for _, p := range c.patterns {
		if cache.MatchPath(p, req.URL.Path) {
			return true
		}
	}
	return false
}

// Submit sends req with the client timeout. For a designated mutating
// request a connectivity failure queues it and returns a queued result; a
// status >= 400 is returned as *netstate.RejectionError. Other requests
// return their failure unchanged, and so does a request whose ctx was
// cancelled by the caller.
func (c *Client) Submit(ctx context.Context, req *http.Request) (*SubmitResult, error) {
	queueable := c.Queueable(req)

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(req.Body, queue.MaxBodySize+1))
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("offline: failed to read request body: %w", err)
		}
		if len(body) > queue.MaxBodySize {
			return nil, queue.ErrBodyTooLarge
		}
	}
	if queueable && req.Header.Get(queue.IdempotencyHeader) == "" {
		req.Header.Set(queue.IdempotencyHeader, uuid.NewString())
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out := req.Clone(sendCtx)
	setBody(out, body)

	resp, err := c.http.Do(out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("offline: submit abandoned: %w", ctx.Err())
		}
		err = netstate.Classify("submit", err)
		if !queueable || !netstate.IsConnectivityError(err) {
			return nil, err
		}
		setBody(req, body)
		m, qerr := c.queue.Enqueue(context.WithoutCancel(ctx), req)
		if qerr != nil {
			return nil, errors.Join(err, qerr)
		}
		c.logger.Info("request saved offline",
			zap.Int64("id", m.ID), zap.String("request_id", m.RequestID))
		return &SubmitResult{Queued: true, Mutation: m}, nil
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, netstate.NewRejectionError(resp)
	}
	if err := detachBody(resp); err != nil {
		return nil, netstate.Classify("submit", err)
	}
	return &SubmitResult{Response: resp}, nil
}

func setBody(req *http.Request, body []byte) {
	if body == nil {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
}

// Drain replays the queue once.
func (c *Client) Drain(ctx context.Context) (*queue.DrainReport, error) {
	report, err := c.queue.Drain(ctx)
	if c.onDrain != nil {
		c.onDrain(report, err)
	}
	return report, err
}

// Run drains the queue on every online signal from source, retrying with
// backoff while the server stays unreachable. It returns when ctx is done
// or source closes.
func (c *Client) Run(ctx context.Context, source netstate.Source) error {
	w := netstate.NewWatcher(source, func(ctx context.Context) error {
		_, err := c.Drain(ctx)
		return err
	},
		netstate.WithBackoff(c.backoff[0], c.backoff[1]),
		netstate.WithWatcherLogger(c.logger),
	)
	return w.Run(ctx)
}
