package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/pkg/apperr"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient(Config{BaseURL: baseURL, UserAgent: "authcore-test"}, nil, nil, events.NewBus())
	require.NoError(t, err)
	return client
}

func writeSession(t *testing.T, w http.ResponseWriter) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(`{
		"accessToken": "access-1",
		"refreshToken": "refresh-1",
		"user": {"id": "u1", "email": "ada@example.com", "name": "Ada"}
	}`))
	require.NoError(t, err)
}

func TestNewClientRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "example.com/missing-scheme"} {
		_, err := NewClient(Config{BaseURL: raw}, nil, nil, events.NewBus())
		assert.Equal(t, apperr.KindInvalidURL, apperr.KindOf(err), "base url %q", raw)
	}
}

func TestLoginSendsCredentialsAndReturnsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, loginPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "authcore-test", r.Header.Get("User-Agent"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ada@example.com", payload["email"])
		assert.Equal(t, "hunter22", payload["password"])

		writeSession(t, w)
	}))
	defer server.Close()

	session, err := newTestClient(t, server.URL).Login(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)

	assert.Equal(t, "access-1", session.Tokens.AccessToken)
	assert.Equal(t, "refresh-1", session.Tokens.RefreshToken)
	assert.Equal(t, "u1", session.User.ID)
	assert.Equal(t, "Ada", session.User.Name)
}

func TestLoginValidatesBeforeSending(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Login(context.Background(), "not-an-email", "pw")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = client.Login(context.Background(), "ada@example.com", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Zero(t, atomic.LoadInt32(&requests), "invalid payloads must never reach the network")
}

func TestRegisterValidatesInput(t *testing.T) {
	client := newTestClient(t, "https://api.example.com")

	_, err := client.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: "short", Name: "Ada"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = client.Register(context.Background(), RegisterInput{Email: "ada@example.com", Password: "long-enough-pw"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "name is required")
}

func TestExchangeRequiresCode(t *testing.T) {
	client := newTestClient(t, "https://api.example.com")

	_, err := client.Exchange(context.Background(), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRefreshRequiresToken(t *testing.T) {
	client := newTestClient(t, "https://api.example.com")

	_, err := client.Refresh(context.Background(), "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRefreshReturnsNewPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, RefreshPath, r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "refresh-0", payload["refreshToken"])

		writeSession(t, w)
	}))
	defer server.Close()

	pair, err := newTestClient(t, server.URL).Refresh(context.Background(), "refresh-0")
	require.NoError(t, err)
	assert.Equal(t, "access-1", pair.AccessToken)
	assert.Equal(t, "refresh-1", pair.RefreshToken)
}

func TestMeReturnsUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, mePath, r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"u1","email":"ada@example.com","name":"Ada","verified":true}`))
	}))
	defer server.Close()

	user, err := newTestClient(t, server.URL).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.Verified)
}

func TestLogoutAcceptsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, logoutPath, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	assert.NoError(t, newTestClient(t, server.URL).Logout(context.Background()))
}

func TestClientJoinsBaseURLPath(t *testing.T) {
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/api/v2/")
	_, err := client.Me(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/api/v2"+mePath, seenPath)
}
