package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/stk-gateway/internal/obs"
)

// Daraja API paths.
const (
	PathOAuth    = "/oauth/v1/generate"
	PathStkPush  = "/mpesa/stkpush/v1/processrequest"
	PathStkQuery = "/mpesa/stkpushquery/v1/query"
)

// Doer executes a prepared request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the Daraja REST API.
type Client struct {
	BaseURL string
	HTTP    Doer
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// GenerateToken exchanges consumer credentials for an access token.
func (c *Client) GenerateToken(ctx context.Context, consumerKey, consumerSecret string) (AccessToken, error) {
	ctx, span := otel.Tracer("mpesa.Client").Start(ctx, "Daraja.GenerateToken")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(PathOAuth)+"?grant_type=client_credentials", nil)
	if err != nil {
		return AccessToken{}, fmt.Errorf("mpesa: build token request: %w", err)
	}
	req.SetBasicAuth(consumerKey, consumerSecret)

	var token AccessToken
	if err := c.do(ctx, "oauth", req, &token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return AccessToken{}, err
	}
	if token.AccessToken == "" {
		err := fmt.Errorf("mpesa: oauth response missing access_token")
		span.SetStatus(codes.Error, err.Error())
		return AccessToken{}, err
	}
	return token, nil
}

// StkPush sends a payment prompt to the customer's handset.
func (c *Client) StkPush(ctx context.Context, token string, body PushRequest) (PushAck, error) {
	ctx, span := otel.Tracer("mpesa.Client").Start(ctx, "Daraja.StkPush")
	defer span.End()

	var ack PushAck
	if err := c.postJSON(ctx, "stkpush", PathStkPush, token, body, &ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PushAck{}, err
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", ack.CheckoutRequestID))
	return ack, nil
}

// StkQuery asks for the current status of a previously initiated push.
func (c *Client) StkQuery(ctx context.Context, token string, body QueryRequest) (QueryResult, error) {
	ctx, span := otel.Tracer("mpesa.Client").Start(ctx, "Daraja.StkQuery")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", body.CheckoutRequestID))

	var result QueryResult
	if err := c.postJSON(ctx, "stkquery", PathStkQuery, token, body, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QueryResult{}, err
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, op, path, token string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("mpesa: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mpesa: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, op, req, out)
}

func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	if c.HTTP == nil {
		return fmt.Errorf("mpesa: http client not configured")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		obs.ProviderLatency.WithLabelValues(op, "error").Observe(obs.DurationMillis(time.Since(start)))
		return fmt.Errorf("mpesa: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	obs.ProviderLatency.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(obs.DurationMillis(time.Since(start)))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mpesa: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Operation: op, Status: resp.StatusCode, Body: body}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mpesa: %s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
