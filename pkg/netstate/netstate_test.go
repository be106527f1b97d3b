package netstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, true},
		{"wrapped deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), true},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example"}, true},
		{"url error", &url.Error{Op: "Post", URL: "https://api.example", Err: syscall.ECONNRESET}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"explicit", &ConnectivityError{Err: errors.New("offline")}, true},
		{"rejection", &RejectionError{StatusCode: 500, Status: "500 Internal Server Error"}, false},
		{"wrapped rejection", fmt.Errorf("replay: %w", &RejectionError{StatusCode: 409}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("submit", nil))

	plain := errors.New("boom")
	assert.Same(t, plain, Classify("submit", plain))

	err := Classify("submit", context.DeadlineExceeded)
	var ce *ConnectivityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "submit", ce.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	again := Classify("replay", err)
	assert.Same(t, err, again)
}

func TestNewRejectionError(t *testing.T) {
	resp := &http.Response{
		StatusCode: 422,
		Body:       io.NopCloser(strings.NewReader(`{"error":"amount"}`)),
	}
	rej := NewRejectionError(resp)
	assert.Equal(t, 422, rej.StatusCode)
	assert.Equal(t, "422 Unprocessable Entity", rej.Status)
	assert.Equal(t, `{"error":"amount"}`, string(rej.Body))
	assert.Contains(t, rej.Error(), "422")
}

func TestRejectionError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusConflict, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooEarly, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{0, false},
	}
	for _, tt := range tests {
		rej := &RejectionError{StatusCode: tt.status}
		assert.Equal(t, tt.want, rej.Retryable(), "status %d", tt.status)
	}
}

func TestManualSource(t *testing.T) {
	s := NewManualSource()
	s.SetOnline(true)
	s.SetOnline(false)
	s.Close()
	s.Close()

	var got []bool
	for v := range s.Signals() {
		got = append(got, v)
	}
	assert.Equal(t, []bool{true, false}, got)
}

func TestPollingSource_EmitsTransitions(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if !up.Load() {
			// Simulate an unreachable server by hijacking and dropping the connection.
			hj, ok := w.(http.Hijacker)
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPollingSource(srv.URL, 10*time.Millisecond, WithProbeTimeout(time.Second))
	go p.Run(ctx)

	select {
	case v := <-p.Signals():
		assert.True(t, v, "an error status still proves reachability")
	case <-time.After(2 * time.Second):
		t.Fatal("no initial signal")
	}

	up.Store(false)
	select {
	case v := <-p.Signals():
		assert.False(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no offline signal")
	}

	cancel()
	for range p.Signals() {
	}
}

func TestPollingSource_ProbeUnreachable(t *testing.T) {
	p := NewPollingSource("http://127.0.0.1:1/health", time.Second, WithProbeTimeout(500*time.Millisecond))
	assert.False(t, p.Probe(context.Background()))

	bad := NewPollingSource("://bad", time.Second)
	assert.False(t, bad.Probe(context.Background()))
}

func TestWatcher_RunsHandlerOnReconnect(t *testing.T) {
	src := NewManualSource()
	var calls atomic.Int32
	ran := make(chan struct{}, 4)
	w := NewWatcher(src, func(ctx context.Context) error {
		calls.Add(1)
		ran <- struct{}{}
		return nil
	}, WithBackoff(time.Millisecond, 10*time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()

	wait := func() {
		t.Helper()
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not run")
		}
	}

	src.SetOnline(true)
	wait()
	src.SetOnline(false)
	src.SetOnline(true)
	wait()
	src.Close()

	require.NoError(t, <-errc)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, w.Online())
}

func TestWatcher_RetriesFailingHandler(t *testing.T) {
	src := NewManualSource()
	var calls atomic.Int32
	done := make(chan struct{})
	w := NewWatcher(src, func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return &ConnectivityError{Err: errors.New("still offline")}
		}
		close(done)
		return nil
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	src.SetOnline(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not retried to success")
	}
	assert.Equal(t, int32(3), calls.Load())

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestWatcher_OfflineCancelsRetries(t *testing.T) {
	src := NewManualSource()
	started := make(chan struct{}, 1)
	w := NewWatcher(src, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()

	src.SetOnline(true)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start")
	}
	src.SetOnline(false)
	src.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.False(t, w.Online())
}
