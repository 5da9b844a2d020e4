package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/ratelimit"
)

func testClient() *RESTClient {
	return NewRESTClient(&Options{
		Timeout:    5 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 1000, Interval: time.Second},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
}

func TestRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	q := url.Values{}
	q.Set("symbol", "BTCUSDT")
	body, err := testClient().Request(context.Background(), http.MethodGet, srv.URL+"/klines", q)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), body)
}

func TestRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	body, err := testClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(`ok`), body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRequestRateLimitedThenRecovered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	body, err := testClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte(`ok`), body)
}

func TestRequestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := testClient().Request(context.Background(), http.MethodGet, srv.URL, nil)
	require.Error(t, err)

	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestRequestContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testClient().Request(ctx, http.MethodGet, srv.URL, nil)
	require.Error(t, err)
}

func TestSetRateLimit(t *testing.T) {
	c := testClient()
	require.NoError(t, c.SetRateLimit(ratelimit.Rate{Limit: 5, Interval: time.Second}))
}
