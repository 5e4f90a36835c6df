package pipeline

import (
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
	"github.com/veloxapp/authcore/pkg/metrics"
)

const (
	// DefaultMaxAttempts bounds total tries, the first attempt included.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay seeds the exponential backoff.
	DefaultBaseDelay = 500 * time.Millisecond
)

// retryableStatuses are the HTTP codes worth another attempt. Everything else
// non-2xx is handed downstream untouched.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// RetryInterceptor re-issues requests that fail with a transport error or a
// retryable status, sleeping base·2^i plus up to 50% jitter between attempts
// so synchronized clients do not retry in lockstep. Exhausting the budget
// returns the last response or error as observed, never a synthetic one.
type RetryInterceptor struct {
	maxAttempts int
	baseDelay   time.Duration
	log         *zap.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetryInterceptor builds a retry stage. Non-positive arguments fall back
// to the defaults.
func NewRetryInterceptor(maxAttempts int, baseDelay time.Duration) *RetryInterceptor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &RetryInterceptor{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		log:         logger.WithModule("pipeline.retry"),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Intercept implements Interceptor.
func (r *RetryInterceptor) Intercept(req *http.Request, next Next) (*http.Response, error) {
	var (
		lastResp *http.Response
		lastErr  error
	)

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if lastResp != nil {
				drainBody(lastResp)
			}
			if err := rewindBody(req); err != nil {
				// Cannot replay the body; surface the previous outcome.
				break
			}

			delay := r.backoffDelay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return lastResp, lastErr
			}

			r.log.Debug("retrying request",
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
		}

		resp, err := next(req)
		lastResp, lastErr = resp, err

		if err == nil && !isRetryableStatus(resp.StatusCode) {
			if attempt > 0 {
				metrics.RetryAttempts.WithLabelValues("success").Inc()
			}
			return resp, nil
		}
	}

	metrics.RetryAttempts.WithLabelValues("exhausted").Inc()
	return lastResp, lastErr
}

// backoffDelay computes the sleep before retry i: base·2^i plus a uniform
// jitter in [0, base·2^i/2).
func (r *RetryInterceptor) backoffDelay(attempt int) time.Duration {
	window := r.baseDelay << uint(attempt)

	r.mu.Lock()
	jitter := time.Duration(r.rand.Int63n(int64(window)/2 + 1))
	r.mu.Unlock()

	if jitter >= window/2 && window >= 2 {
		jitter = window/2 - 1
	}
	return window + jitter
}

func isRetryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

// rewindBody restores a replayable request body before a retry.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// drainBody releases a response we are about to discard so the transport can
// reuse the connection.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
