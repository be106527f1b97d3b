// Package queue provides a durable FIFO of mutating HTTP requests recorded
// while offline, and replays them in order when connectivity returns.
//
// # Drain semantics
//
// A drain captures the current tail first; requests enqueued while it runs
// wait for the next drain. Items are processed strictly in insertion order:
//
//   - past the retention window: dropped without replay, reported as expired
//   - delivered: removed
//   - permanently rejected (4xx other than 408, 425, 429): removed,
//     reported, never retried
//   - connectivity failure or retryable rejection (5xx, 408, 425, 429):
//     left at the head, drain aborted
//
// Only one drain runs at a time; a concurrent call returns immediately with
// a coalesced report.
package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/netstate"
)

// Queue limits.
const (
	// RetentionWindow is how long a mutation may wait before it is dropped.
	RetentionWindow = 24 * time.Hour

	// MaxBodySize bounds the body snapshot of an enqueued request.
	MaxBodySize = 1 << 20
)

// IdempotencyHeader carries the mutation's request ID on every replay.
const IdempotencyHeader = "Idempotency-Key"

// Errors
var (
	ErrNotFound     = errors.New("queue: mutation not found")
	ErrBodyTooLarge = errors.New("queue: request body too large")
)

// Mutation is one queued request.
type Mutation struct {
	ID         int64       `json:"id"`
	RequestID  string      `json:"request_id"`
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"-"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error,omitempty"`
}

// Deadline returns when the mutation expires.
func (m *Mutation) Deadline() time.Time {
	return m.EnqueuedAt.Add(RetentionWindow)
}

// Expired reports whether the mutation is past its deadline at now.
func (m *Mutation) Expired(now time.Time) bool {
	return !now.Before(m.Deadline())
}

// Store persists mutations in insertion order.
type Store interface {
	// Append assigns the next ID and stores m.
	Append(ctx context.Context, m *Mutation) (int64, error)
	// Head returns the lowest-ID mutation with ID <= maxID, or ErrNotFound.
	Head(ctx context.Context, maxID int64) (*Mutation, error)
	// MaxID returns the highest assigned ID still queued, 0 when empty.
	MaxID(ctx context.Context) (int64, error)
	Remove(ctx context.Context, id int64) error
	// RecordFailure increments Attempts and stores lastErr.
	RecordFailure(ctx context.Context, id int64, lastErr string) error
	List(ctx context.Context) ([]*Mutation, error)
	Len(ctx context.Context) (int, error)
}

// Replayer sends a queued mutation. It returns nil on delivery, a
// *netstate.RejectionError when the server answered with an error status
// and any other error when the server could not be reached.
type Replayer interface {
	Replay(ctx context.Context, m *Mutation) error
}

// Recorder receives queue lifecycle events. The audit trail implements it.
type Recorder interface {
	Enqueued(m *Mutation)
	Delivered(m *Mutation)
	Rejected(m *Mutation, err *netstate.RejectionError)
	Expired(m *Mutation)
}

// Failure describes a mutation that was dropped during a drain.
type Failure struct {
	Mutation   *Mutation `json:"mutation"`
	Reason     string    `json:"reason"` // "expired" or "rejected"
	StatusCode int       `json:"status_code,omitempty"`
}

// DrainReport summarizes a drain.
type DrainReport struct {
	Coalesced bool      `json:"coalesced"`
	Delivered int       `json:"delivered"`
	Expired   []Failure `json:"expired,omitempty"`
	Rejected  []Failure `json:"rejected,omitempty"`
	Remaining int       `json:"remaining"`
	Aborted   *Mutation `json:"aborted,omitempty"`
}

// DrainError is returned when a drain stops on a connectivity failure or a
// retryable rejection. The failing mutation stays at the head of the queue.
type DrainError struct {
	Mutation *Mutation
	Err      error
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("queue: drain aborted at mutation %d: %v", e.Mutation.ID, e.Err)
}

func (e *DrainError) Unwrap() error { return e.Err }

// Queue is the offline write queue.
type Queue struct {
	store    Store
	replayer Replayer
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	draining atomic.Bool
	// appendMu orders Append calls so IDs follow arrival order.
	appendMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithRecorder sets the lifecycle event recorder.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

// New creates a Queue.
func New(store Store, replayer Replayer, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		replayer: replayer,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue snapshots req and appends it. The request body is consumed and
// replaced with a fresh reader over the snapshot so the caller may still
// inspect it.
func (q *Queue) Enqueue(ctx context.Context, req *http.Request) (*Mutation, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(req.Body, MaxBodySize+1))
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("queue: failed to read request body: %w", err)
		}
		if len(body) > MaxBodySize {
			return nil, ErrBodyTooLarge
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	requestID := header.Get(IdempotencyHeader)
	if requestID == "" {
		requestID = q.newID()
	}
	header.Del(IdempotencyHeader)

	m := &Mutation{
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Header:     header,
		Body:       body,
		EnqueuedAt: q.now(),
	}

	q.appendMu.Lock()
	id, err := q.store.Append(ctx, m)
	q.appendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to append mutation: %w", err)
	}
	m.ID = id

	q.logger.Info("mutation queued",
		zap.Int64("id", m.ID),
		zap.String("request_id", m.RequestID),
		zap.String("method", m.Method))
	if q.recorder != nil {
		q.recorder.Enqueued(m)
	}
	return m, nil
}

// Draining reports whether a drain is in progress.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Drain replays the queued snapshot in order. See the package documentation
// for per-item handling.
func (q *Queue) Drain(ctx context.Context) (*DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return &DrainReport{Coalesced: true}, nil
	}
	defer q.draining.Store(false)

	report := &DrainReport{}
	maxID, err := q.store.MaxID(ctx)
	if err != nil {
		return report, fmt.Errorf("queue: failed to snapshot queue: %w", err)
	}

	for {
		m, err := q.store.Head(ctx, maxID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return q.finish(ctx, report), fmt.Errorf("queue: failed to read head: %w", err)
		}

		if m.Expired(q.now()) {
			if err := q.store.Remove(ctx, m.ID); err != nil {
				return q.finish(ctx, report), fmt.Errorf("queue: failed to drop expired mutation: %w", err)
			}
			report.Expired = append(report.Expired, Failure{Mutation: m, Reason: "expired"})
			q.logger.Warn("mutation expired without delivery",
				zap.Int64("id", m.ID), zap.String("request_id", m.RequestID))
			if q.recorder != nil {
				q.recorder.Expired(m)
			}
			continue
		}

		replayErr := q.replayer.Replay(ctx, m)
		if replayErr == nil {
			if err := q.store.Remove(ctx, m.ID); err != nil {
				return q.finish(ctx, report), fmt.Errorf("queue: failed to remove delivered mutation: %w", err)
			}
			report.Delivered++
			q.logger.Info("mutation delivered",
				zap.Int64("id", m.ID), zap.String("request_id", m.RequestID))
			if q.recorder != nil {
				q.recorder.Delivered(m)
			}
			continue
		}

		var rej *netstate.RejectionError
		if errors.As(replayErr, &rej) && !rej.Retryable() {
			if err := q.store.Remove(ctx, m.ID); err != nil {
				return q.finish(ctx, report), fmt.Errorf("queue: failed to remove rejected mutation: %w", err)
			}
			report.Rejected = append(report.Rejected, Failure{
				Mutation:   m,
				Reason:     "rejected",
				StatusCode: rej.StatusCode,
			})
			q.logger.Warn("mutation rejected by server",
				zap.Int64("id", m.ID),
				zap.String("request_id", m.RequestID),
				zap.Int("status", rej.StatusCode))
			if q.recorder != nil {
				q.recorder.Rejected(m, rej)
			}
			continue
		}

		// Connectivity failure, retryable rejection, cancellation or
		// anything unclassified: keep the item at the head and stop.
		m.Attempts++
		m.LastError = replayErr.Error()
		if err := q.store.RecordFailure(context.WithoutCancel(ctx), m.ID, m.LastError); err != nil {
			q.logger.Warn("failed to record replay attempt", zap.Int64("id", m.ID), zap.Error(err))
		}
		report.Aborted = m
		q.logger.Info("drain aborted",
			zap.Int64("id", m.ID), zap.Int("attempts", m.Attempts), zap.Error(replayErr))
		return q.finish(ctx, report), &DrainError{Mutation: m, Err: netstate.Classify("replay", replayErr)}
	}

	return q.finish(ctx, report), nil
}

func (q *Queue) finish(ctx context.Context, report *DrainReport) *DrainReport {
	if n, err := q.store.Len(context.WithoutCancel(ctx)); err == nil {
		report.Remaining = n
	}
	return report
}

// PruneExpired drops every mutation past the retention window without
// replaying it.
func (q *Queue) PruneExpired(ctx context.Context) ([]Failure, error) {
	items, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to list mutations: %w", err)
	}
	now := q.now()
	var dropped []Failure
	for _, m := range items {
		if !m.Expired(now) {
			continue
		}
		if err := q.store.Remove(ctx, m.ID); err != nil {
			return dropped, fmt.Errorf("queue: failed to drop expired mutation: %w", err)
		}
		dropped = append(dropped, Failure{Mutation: m, Reason: "expired"})
		if q.recorder != nil {
			q.recorder.Expired(m)
		}
	}
	if len(dropped) > 0 {
		q.logger.Warn("pruned expired mutations", zap.Int("count", len(dropped)))
	}
	return dropped, nil
}

// List returns queued mutations in replay order.
func (q *Queue) List(ctx context.Context) ([]*Mutation, error) {
	return q.store.List(ctx)
}

// Len returns the number of queued mutations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.store.Len(ctx)
}
