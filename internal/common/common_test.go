package common_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/common"
)

func TestClientIPIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	req.Header.Set("X-Real-IP", "10.2.2.2")
	req.Header.Set("X-Forwarded-For", "196.201.214.200")
	require.Equal(t, "10.1.1.1", common.ClientIP(req))
	require.Equal(t, "10.1.1.1", common.PeerIP(req))

	req = req.WithContext(common.WithClientIP(req.Context(), "196.201.214.7"))
	require.Equal(t, "196.201.214.7", common.ClientIP(req))
	require.Equal(t, "10.1.1.1", common.PeerIP(req))

	require.Empty(t, common.ClientIP(nil))
}

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, errors.New("expired")))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var body struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "UNAUTHORIZED", body.Error.Code)
	require.Equal(t, "invalid token", body.Error.Message)

	rr = httptest.NewRecorder()
	common.WriteAppError(rr, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("signature mismatch")
	err := common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "invalid token: signature mismatch", err.Error())

	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, appErr.HTTPStatus)
}

func TestClientIDContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := common.ClientID(req.Context())
	require.False(t, ok)

	id, ok := common.ClientID(common.WithClientID(req.Context(), "merchant-portal"))
	require.True(t, ok)
	require.Equal(t, "merchant-portal", id)
}

func newIdem(t *testing.T) (common.Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return common.Idem{R: rdb, TTL: time.Minute}, mr
}

func TestIdempotencyRejectsReplay(t *testing.T) {
	idem, mr := newIdem(t)
	calls := 0
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/stk", nil)
		req.Header.Set(common.IdempotencyHeader, key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, send("k1"))
	require.Equal(t, http.StatusConflict, send("k1"))
	require.Equal(t, http.StatusOK, send("k2"))
	require.Equal(t, 2, calls)

	key := "idem:" + common.Sha256Hex("POST /api/stk k1")
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	idem, _ := newIdem(t)
	status := http.StatusBadGateway
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/stk", nil)
		req.Header.Set(common.IdempotencyHeader, "retry-me")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusBadGateway, send())
	status = http.StatusOK
	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusConflict, send())
}

func TestIdempotencyPassThrough(t *testing.T) {
	calls := 0
	h := common.Idem{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/stk", nil)
		req.Header.Set(common.IdempotencyHeader, "same")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	require.Equal(t, 2, calls)
}
