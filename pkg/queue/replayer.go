package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forest6511/vaultsync/pkg/netstate"
)

// DefaultReplayTimeout bounds a single replay.
const DefaultReplayTimeout = 30 * time.Second

// HTTPReplayer replays mutations over HTTP. Responses with status >= 400 are
// rejections; transport failures are connectivity errors.
type HTTPReplayer struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPReplayer returns a replayer using client, or http.DefaultClient
// when nil.
func NewHTTPReplayer(client *http.Client) *HTTPReplayer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPReplayer{Client: client, Timeout: DefaultReplayTimeout}
}

// Replay implements Replayer.
func (r *HTTPReplayer) Replay(ctx context.Context, m *Mutation) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(m.Body) > 0 {
		body = bytes.NewReader(m.Body)
	}
	req, err := http.NewRequestWithContext(ctx, m.Method, m.URL, body)
	if err != nil {
		// A malformed stored request can never succeed.
		return &netstate.RejectionError{
			Status: fmt.Sprintf("invalid request: %v", err),
		}
	}
	for k, vs := range m.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(IdempotencyHeader, m.RequestID)

	resp, err := r.Client.Do(req)
	if err != nil {
		return netstate.Classify("replay", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return netstate.NewRejectionError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
