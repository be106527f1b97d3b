// Package netstate classifies network failures and tracks whether the device
// is online.
//
// A connectivity failure (unreachable host, refused connection, DNS error,
// timeout, cancellation) means the request may be retried later. A
// rejection means the server was reached and answered with an error status.
// Only a retryable rejection (overload, throttling, 5xx) is worth sending
// again.
package netstate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
)

// maxRejectionBody bounds how much of a rejection body is kept for reporting.
const maxRejectionBody = 4 << 10

// ConnectivityError marks a failure to reach the server.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("netstate: connectivity failure: %v", e.Err)
	}
	return fmt.Sprintf("netstate: connectivity failure during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RejectionError is an error status returned by a reachable server.
type RejectionError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("netstate: server rejected request: %s", e.Status)
}

// Retryable reports whether the server may accept the same request later:
// 408, 425, 429 and every 5xx. Other rejections are permanent.
func (e *RejectionError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// NewRejectionError builds a RejectionError from resp, reading at most a few
// kilobytes of its body. The caller still owns resp.Body.
func NewRejectionError(resp *http.Response) *RejectionError {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, maxRejectionBody))
	}
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return &RejectionError{StatusCode: resp.StatusCode, Status: status, Body: body}
}

// IsConnectivityError reports whether err means the server could not be
// reached. Server rejections are never connectivity errors.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		return false
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps err as a *ConnectivityError when it is one and returns it
// unchanged otherwise.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	if IsConnectivityError(err) {
		return &ConnectivityError{Op: op, Err: err}
	}
	return err
}
