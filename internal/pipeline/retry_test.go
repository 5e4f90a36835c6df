package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayBounds(t *testing.T) {
	base := 100 * time.Millisecond
	r := NewRetryInterceptor(5, base)

	for attempt := 0; attempt < 4; attempt++ {
		window := base << uint(attempt)
		for i := 0; i < 200; i++ {
			delay := r.backoffDelay(attempt)
			assert.GreaterOrEqual(t, delay, window, "delay below the backoff window")
			assert.Less(t, delay, window+window/2, "jitter must stay under half the window")
		}
	}
}

func TestRetryRecoversFromTransientServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"email":"a@b.c"}`, string(body), "body must be replayed intact on every attempt")

		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	chain := NewChain(nil, NewRetryInterceptor(3, time.Millisecond))
	client := &http.Client{Transport: chain}

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestRetryRecoversFromSlowAttempt(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// Stall past the per-attempt header deadline; only this
			// attempt should fail, not the whole call.
			time.Sleep(300 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	chain := NewChain(BaseTransport(100*time.Millisecond), NewRetryInterceptor(3, time.Millisecond))
	client := &http.Client{Transport: chain}

	resp, err := client.Get(server.URL)
	require.NoError(t, err, "a timed-out attempt must be retried, not surfaced")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestBaseTransportDefaults(t *testing.T) {
	transport := BaseTransport(0)
	assert.Equal(t, DefaultAttemptTimeout, transport.ResponseHeaderTimeout)
	assert.Equal(t, DefaultAttemptTimeout, transport.TLSHandshakeTimeout)

	transport = BaseTransport(2 * time.Second)
	assert.Equal(t, 2*time.Second, transport.ResponseHeaderTimeout)
}

func TestRetryExhaustionReturnsLastResponse(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	chain := NewChain(nil, NewRetryInterceptor(2, time.Millisecond))
	client := &http.Client{Transport: chain}

	resp, err := client.Get(server.URL)
	require.NoError(t, err, "an exhausted budget surfaces the last response, not a synthetic error")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestRetryDoesNotTouchNonRetryableStatus(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	chain := NewChain(nil, NewRetryInterceptor(3, time.Millisecond))
	client := &http.Client{Transport: chain}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestRetryStopsWhenContextExpires(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	// A long base delay: the context must cut the backoff sleep short.
	chain := NewChain(nil, NewRetryInterceptor(3, 10*time.Second))
	client := &http.Client{Transport: chain}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Less(t, elapsed, 2*time.Second, "context expiry must abort the backoff sleep")
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		assert.True(t, isRetryableStatus(code), "status %d", code)
	}

	final := []int{200, 201, 301, 400, 401, 403, 404, 422, 501}
	for _, code := range final {
		assert.False(t, isRetryableStatus(code), "status %d", code)
	}
}
