package pipeline

import (
	"net"
	"net/http"
	"time"
)

// DefaultAttemptTimeout bounds a single attempt when no timeout is configured.
const DefaultAttemptTimeout = 30 * time.Second

// BaseTransport returns the terminal transport with per-attempt deadlines on
// connect, TLS handshake, and response headers. Deadlines live here instead
// of a whole-call client timeout so a hung attempt fails with a retryable
// timeout error while the request context stays alive for the retry stage;
// callers bound total time through the request context.
func BaseTransport(attemptTimeout time.Duration) *http.Transport {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   attemptTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = attemptTimeout
	transport.ResponseHeaderTimeout = attemptTimeout
	return transport
}
