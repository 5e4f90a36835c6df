package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/pkg/apperr"
)

// This file is the single chokepoint where HTTP semantics become domain
// semantics. No other component interprets status codes.

// serverErrorEnvelope is the backend's error body. The message field is
// itself a JSON-encoded string of innerServerError; the backend
// double-encodes it, so we decode twice. Quirk preserved for compatibility.
type serverErrorEnvelope struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

type innerServerError struct {
	ID      string            `json:"id"`
	Message string            `json:"message"`
	Params  map[string]string `json:"params,omitempty"`
}

// Do executes the request and decodes a 2xx JSON body into T. Every failure
// path terminates in a typed *apperr.Error; auth and rate-limit failures also
// publish their session event before returning.
func Do[T any](bus *events.Bus, client *http.Client, req *http.Request) (*T, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTP(bus, resp, body)
	}
	if readErr != nil {
		return nil, apperr.Decoding(readErr)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		// A success without a payload is a contract violation, not a
		// transport failure.
		return nil, apperr.NoData()
	}

	var value T
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, apperr.Decoding(err)
	}
	return &value, nil
}

// DoDiscard executes the request and ignores any 2xx body. Used for calls
// like logout whose success response is empty by design.
func DoDiscard(bus *events.Bus, client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyHTTP(bus, resp, body)
	}
	return nil
}

// classifyTransport maps transport-level failures into the taxonomy.
func classifyTransport(err error) *apperr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Timeout(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperr.NoConnection(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return apperr.NoConnection(err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.NoConnection(err)
	}

	return apperr.UnknownNetwork(err)
}

// classifyHTTP maps non-2xx responses, publishing session events for the
// auth-relevant codes. Precedence: 401, 403, 429, then structured server
// error with a raw status fallback.
func classifyHTTP(bus *events.Bus, resp *http.Response, body []byte) *apperr.Error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if bus != nil {
			bus.NotifySessionExpired()
		}
		return apperr.SessionExpired()

	case http.StatusForbidden:
		if bus != nil {
			bus.NotifyAccessDenied()
		}
		return apperr.Forbidden()

	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if bus != nil {
			bus.NotifyRateLimited(retryAfter)
		}
		return apperr.RateLimited(retryAfter)

	default:
		code, message := decodeServerError(body)
		return apperr.Server(resp.StatusCode, code, message)
	}
}

// parseRetryAfter reads integer seconds; absent or non-numeric yields nil.
func parseRetryAfter(value string) *int {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return nil
	}
	return &seconds
}

// decodeServerError unwraps the double-encoded error detail. Either decode
// failing falls back to whatever is available; a completely unparseable body
// yields empty code and message.
func decodeServerError(body []byte) (code, message string) {
	var envelope serverErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", ""
	}

	var inner innerServerError
	if err := json.Unmarshal([]byte(envelope.Message), &inner); err != nil {
		// Not double-encoded after all; use the outer fields directly.
		return envelope.Error, envelope.Message
	}

	code = inner.ID
	if code == "" {
		code = envelope.Error
	}
	return code, inner.Message
}
