package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oakmart/backend-store/internal/resilience"
)

func TestHTTPClientRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientOpenBreakerUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(1, 0.5, time.Minute)
	ctx := context.Background()
	breaker.Report(ctx, false)
	require.False(t, breaker.Allow(ctx))

	fallbackCalled := false
	client := resilience.HTTPClient{
		Client:      srv.Client(),
		Breaker:     breaker,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		Fallback: func(ctx context.Context, req *http.Request, cause error) (*http.Response, error) {
			fallbackCalled = true
			require.ErrorIs(t, cause, resilience.ErrOpenCircuit)
			rec := httptest.NewRecorder()
			rec.WriteHeader(http.StatusServiceUnavailable)
			return rec.Result(), nil
		},
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(ctx, req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.True(t, fallbackCalled)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
