package netstate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Default reconnect backoff.
const (
	DefaultRetryBase = time.Second
	DefaultRetryCap  = 5 * time.Minute
)

// Handler runs when the device comes online, typically a queue drain.
type Handler func(ctx context.Context) error

// Watcher calls a Handler on every online signal. A failing handler is
// retried with capped exponential backoff until it succeeds, an offline
// signal arrives (which also cancels the running attempt) or the watcher
// stops. Online signals received while the handler is running are absorbed.
type Watcher struct {
	source  Source
	handler Handler
	logger  *zap.Logger
	base    time.Duration
	maxWait time.Duration
	online  atomic.Bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithBackoff sets the base and maximum retry delay.
func WithBackoff(base, maxDelay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.base = base
		w.maxWait = maxDelay
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a Watcher.
func NewWatcher(source Source, handler Handler, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:  source,
		handler: handler,
		logger:  zap.NewNop(),
		base:    DefaultRetryBase,
		maxWait: DefaultRetryCap,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Online reports the last signal received.
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// Run consumes signals until ctx is done or the source closes.
func (w *Watcher) Run(ctx context.Context) error {
	signals := w.source.Signals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-signals:
			if !ok {
				return nil
			}
			w.online.Store(online)
			if !online {
				w.logger.Info("offline")
				continue
			}
			w.logger.Info("online, running reconnect handler")
			if closed := w.runHandler(ctx, signals); closed {
				return nil
			}
		}
	}
}

// runHandler retries the handler while watching for an offline signal.
// It reports whether the signal channel was closed.
func (w *Watcher) runHandler(ctx context.Context, signals <-chan bool) bool {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- retry.Do(attemptCtx, w.newBackoff(), func(ctx context.Context) error {
			if err := w.handler(ctx); err != nil {
				w.logger.Warn("reconnect handler failed, will retry", zap.Error(err))
				return retry.RetryableError(err)
			}
			return nil
		})
	}()

	for {
		select {
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("reconnect handler gave up", zap.Error(err))
			}
			return false
		case online, ok := <-signals:
			if !ok {
				cancel()
				<-done
				return true
			}
			if online {
				continue
			}
			w.online.Store(false)
			w.logger.Info("offline, cancelling reconnect handler")
			cancel()
			<-done
			return false
		}
	}
}

func (w *Watcher) newBackoff() retry.Backoff {
	b := retry.NewExponential(w.base)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(w.maxWait, b)
}
