package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/resilience"
)

func TestHTTPClientBreakerMetricsAcrossOutage(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"0"}`))
	}))
	defer srv.Close()

	client := resilience.HTTPClient{
		Client:  srv.Client(),
		Breaker: resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("mpesa"),
		Timeout: time.Second,
	}
	query := func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/mpesa/stkpushquery/v1/query", nil)
		require.NoError(t, err)
		return client.Do(context.Background(), req)
	}
	state := func() float64 {
		return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("mpesa"))
	}

	resp, err := query()
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, 1.0, state())

	_, err = query()
	require.True(t, errors.Is(err, resilience.ErrOpenCircuit))
	require.EqualValues(t, 1, calls.Load(), "open breaker short-circuits without calling out")

	require.Eventually(t, func() bool {
		resp, err := query()
		return err == nil && resp.StatusCode == http.StatusOK
	}, 200*time.Millisecond, 5*time.Millisecond)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, 0.0, state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("mpesa")))
	for _, edge := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		got := testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("mpesa", edge[0], edge[1]))
		require.Equal(t, 1.0, got, "%s -> %s", edge[0], edge[1])
	}
}
