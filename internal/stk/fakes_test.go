package stk_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/mpesa"
	"github.com/noah-isme/stk-gateway/internal/stk"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type fakeTokens struct {
	mu    sync.Mutex
	calls int
	token string
	err   error
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.token == "" {
		return "test-token", nil
	}
	return f.token, nil
}

func (f *fakeTokens) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGateway struct {
	mu sync.Mutex

	pushes  []mpesa.PushRequest
	queries []mpesa.QueryRequest
	tokens  []string

	ack      mpesa.PushAck
	pushErr  error
	result   mpesa.QueryResult
	queryErr error
}

func (f *fakeGateway) StkPush(_ context.Context, token string, req mpesa.PushRequest) (mpesa.PushAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	f.tokens = append(f.tokens, token)
	return f.ack, f.pushErr
}

func (f *fakeGateway) StkQuery(_ context.Context, token string, req mpesa.QueryRequest) (mpesa.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	f.tokens = append(f.tokens, token)
	return f.result, f.queryErr
}

func (f *fakeGateway) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes) + len(f.queries)
}

func acceptedAck() mpesa.PushAck {
	return mpesa.PushAck{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_191220191020363925",
		ResponseCode:        json.RawMessage(`"0"`),
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
}

func queryResult(body string) mpesa.QueryResult {
	var res mpesa.QueryResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		panic(err)
	}
	return res
}

func newService(gw stk.Gateway, tokens mpesa.TokenSource) *stk.Service {
	svc := stk.NewService(stk.Config{
		ShortCode:   "174379",
		PassKey:     "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919",
		CallbackURL: "https://example.com/api/callback",
	}, gw, tokens, zerolog.Nop())
	svc.WithClock(func() time.Time { return fixedNow })
	return svc
}
