package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts counts pipeline retry attempts by final outcome (success|exhausted).
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_retry_attempts_total",
			Help: "Total number of request retry attempts",
		},
		[]string{"outcome"},
	)

	// CacheOps counts cache lookups by tier (memory|disk) and result (hit|miss).
	CacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_cache_ops_total",
			Help: "Total number of cache lookups",
		},
		[]string{"tier", "result"},
	)

	// TokenRefreshes counts token refresh calls by result (success|failure|coalesced).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_token_refreshes_total",
			Help: "Total number of access token refresh attempts",
		},
		[]string{"result"},
	)

	// SessionEvents counts published session lifecycle events by type.
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_session_events_total",
			Help: "Total number of session lifecycle events published",
		},
		[]string{"type"},
	)
)
