package netstate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source emits connectivity changes: true when the device comes online,
// false when it goes offline. Signals may be spurious; consumers must
// tolerate an "online" that turns out to be wrong.
type Source interface {
	Signals() <-chan bool
}

// ManualSource is driven by explicit calls. It backs the CLI's one-shot
// drain and tests.
type ManualSource struct {
	ch   chan bool
	once sync.Once
}

// NewManualSource creates a ManualSource with a small signal buffer.
func NewManualSource() *ManualSource {
	return &ManualSource{ch: make(chan bool, 8)}
}

// Signals implements Source.
func (s *ManualSource) Signals() <-chan bool { return s.ch }

// SetOnline emits a signal. It blocks when the buffer is full.
func (s *ManualSource) SetOnline(online bool) { s.ch <- online }

// Close ends the signal stream.
func (s *ManualSource) Close() {
	s.once.Do(func() { close(s.ch) })
}

// PollingSource probes a health URL with HEAD requests and emits a signal
// whenever reachability changes. The first probe always emits.
type PollingSource struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *zap.Logger
	ch       chan bool
}

// PollingOption configures a PollingSource.
type PollingOption func(*PollingSource)

// WithHTTPClient sets the client used for probes.
func WithHTTPClient(c *http.Client) PollingOption {
	return func(p *PollingSource) { p.client = c }
}

// WithProbeTimeout bounds each probe. Defaults to 5s.
func WithProbeTimeout(d time.Duration) PollingOption {
	return func(p *PollingSource) { p.timeout = d }
}

// WithPollingLogger sets the logger.
func WithPollingLogger(l *zap.Logger) PollingOption {
	return func(p *PollingSource) { p.logger = l }
}

// NewPollingSource creates a source that probes healthURL every interval.
// Call Run to start polling.
func NewPollingSource(healthURL string, interval time.Duration, opts ...PollingOption) *PollingSource {
	p := &PollingSource{
		url:      healthURL,
		interval: interval,
		timeout:  5 * time.Second,
		client:   http.DefaultClient,
		logger:   zap.NewNop(),
		ch:       make(chan bool, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Signals implements Source.
func (p *PollingSource) Signals() <-chan bool { return p.ch }

// Run polls until ctx is done, then closes the signal channel.
func (p *PollingSource) Run(ctx context.Context) {
	defer close(p.ch)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last, known bool
	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return
		}
		if !known || online != last {
			p.logger.Info("connectivity changed", zap.Bool("online", online))
			select {
			case p.ch <- online:
			case <-ctx.Done():
				return
			}
			last, known = online, true
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe reports whether the health URL answered at all. Any HTTP response,
// even an error status, proves the server is reachable.
func (p *PollingSource) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid health URL", zap.Error(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("health probe failed", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return true
}
