package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBody caps how much of a downstream response is buffered.
const DefaultMaxBody = 1 << 20

// HTTPClient wraps an http.Client with a per-call timeout and circuit breaker.
// Each call is attempted exactly once; payment initiations are not replayed.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
	MaxBody int64
}

// Do executes the request. The response body is read in full before the call
// deadline is released, so callers receive a fully buffered body. Transport
// failures and gateway-style statuses (502, 503, 504) count against the
// breaker; every other response is returned unchanged, including 4xx and 500.
// When the breaker is open ErrOpenCircuit is returned without calling out.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cl.report(ctx, false)
		return nil, err
	}
	raw := resp.Body
	defer func() { _ = raw.Close() }()

	limit := cl.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	body, err := io.ReadAll(io.LimitReader(raw, limit))
	if err != nil {
		cl.report(ctx, false)
		return nil, fmt.Errorf("resilience: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	cl.report(ctx, !isGatewayFailure(resp.StatusCode))
	return resp, nil
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func isGatewayFailure(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
