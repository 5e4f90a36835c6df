package pipeline

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/internal/secure"
	"github.com/veloxapp/authcore/pkg/logger"
	"github.com/veloxapp/authcore/pkg/metrics"
)

// Refresher exchanges a refresh token for a fresh pair. Implemented by the
// API client; injected after construction because the client itself rides on
// the pipeline.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (secure.TokenPair, error)
}

// AuthInterceptor injects the bearer token on outgoing requests and recovers
// from 401s by refreshing the session.
//
// The refresh critical section is the one process-wide lock in the pipeline:
// at most one refresh call is ever in flight. Callers that queued behind it
// re-check the stored token first; if another request already won the
// refresh, they replay with the winning token instead of refreshing again.
type AuthInterceptor struct {
	creds       *secure.CredentialStore
	bus         *events.Bus
	refreshPath string
	log         *zap.Logger

	mu        sync.Mutex
	refresher Refresher
}

// NewAuthInterceptor builds the auth stage. refreshPath identifies the token
// refresh endpoint, which is exempt from injection and 401 recovery so a
// failing refresh can never recurse into itself.
func NewAuthInterceptor(creds *secure.CredentialStore, bus *events.Bus, refreshPath string) *AuthInterceptor {
	return &AuthInterceptor{
		creds:       creds,
		bus:         bus,
		refreshPath: refreshPath,
		log:         logger.WithModule("pipeline.auth"),
	}
}

// SetRefresher wires the refresh implementation. Must be called before the
// first request that can 401.
func (a *AuthInterceptor) SetRefresher(r Refresher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refresher = r
}

// Intercept implements Interceptor.
func (a *AuthInterceptor) Intercept(req *http.Request, next Next) (*http.Response, error) {
	if a.isRefreshRequest(req) {
		return next(req)
	}

	usedToken, _ := a.creds.AccessToken()
	if usedToken != "" {
		req.Header.Set("Authorization", "Bearer "+usedToken)
	}

	resp, err := next(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || usedToken == "" {
		// Unauthenticated 401s (login with bad credentials) are not session
		// failures; classification happens downstream.
		return resp, err
	}

	return a.recover(req, resp, usedToken, next)
}

// recover holds the refresh critical section and either replays with a token
// another caller already refreshed, or refreshes itself.
func (a *AuthInterceptor) recover(req *http.Request, resp *http.Response, usedToken string, next Next) (*http.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, ok := a.creds.AccessToken(); ok && current != "" && current != usedToken {
		// Someone else refreshed while we waited for the lock.
		metrics.TokenRefreshes.WithLabelValues("coalesced").Inc()
		return a.replay(req, resp, current, next)
	}

	pair, ok := a.creds.Tokens()
	if !ok || pair.RefreshToken == "" || a.refresher == nil {
		a.expireSession()
		return resp, nil
	}

	fresh, err := a.refresher.Refresh(req.Context(), pair.RefreshToken)
	if err != nil {
		a.log.Info("token refresh failed", zap.Error(err))
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		a.expireSession()
		return resp, nil
	}

	if err := a.creds.SetTokens(fresh); err != nil {
		a.log.Warn("persisting refreshed tokens failed", zap.Error(err))
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	return a.replay(req, resp, fresh.AccessToken, next)
}

// replay re-issues the original request with a new bearer token, releasing
// the stale response first.
func (a *AuthInterceptor) replay(req *http.Request, stale *http.Response, token string, next Next) (*http.Response, error) {
	if err := rewindBody(req); err != nil {
		return stale, nil
	}
	drainBody(stale)
	req.Header.Set("Authorization", "Bearer "+token)
	return next(req)
}

// expireSession clears local credentials and tells the UI to force re-login.
func (a *AuthInterceptor) expireSession() {
	if err := a.creds.Clear(); err != nil {
		a.log.Warn("clearing credentials failed", zap.Error(err))
	}
	a.bus.NotifySessionExpired()
}

func (a *AuthInterceptor) isRefreshRequest(req *http.Request) bool {
	return strings.HasSuffix(strings.TrimSuffix(req.URL.Path, "/"), a.refreshPath)
}
