package oauth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlowConfig() Config {
	return Config{
		ClientID:     "authcore-mobile",
		AuthURL:      "https://id.example.com/authorize",
		Scopes:       []string{"openid", "profile"},
		RedirectPort: 48321,
	}
}

func TestNewFlowValidation(t *testing.T) {
	cfg := testFlowConfig()
	cfg.ClientID = ""
	_, err := NewFlow(cfg)
	require.Error(t, err)

	cfg = testFlowConfig()
	cfg.AuthURL = ""
	_, err = NewFlow(cfg)
	require.Error(t, err)

	cfg = testFlowConfig()
	cfg.RedirectPort = 0
	_, err = NewFlow(cfg)
	require.Error(t, err)
}

func TestAuthCodeURLCarriesStateAndPKCEChallenge(t *testing.T) {
	flow, err := NewFlow(testFlowConfig())
	require.NoError(t, err)

	parsed, err := url.Parse(flow.AuthCodeURL())
	require.NoError(t, err)
	query := parsed.Query()

	assert.Equal(t, "id.example.com", parsed.Host)
	assert.Equal(t, "authcore-mobile", query.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:48321/callback", query.Get("redirect_uri"))
	assert.Equal(t, "openid profile", query.Get("scope"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))

	state := query.Get("state")
	require.NotEmpty(t, state)
	assert.True(t, flow.ValidateState(state))

	// The verifier itself never appears in the browser URL.
	assert.NotContains(t, flow.AuthCodeURL(), flow.Verifier())
}

func TestValidateState(t *testing.T) {
	flow, err := NewFlow(testFlowConfig())
	require.NoError(t, err)

	assert.False(t, flow.ValidateState(""))
	assert.False(t, flow.ValidateState("forged-state"))
}

func TestFlowsAreSingleUse(t *testing.T) {
	first, err := NewFlow(testFlowConfig())
	require.NoError(t, err)
	second, err := NewFlow(testFlowConfig())
	require.NoError(t, err)

	assert.NotEqual(t, first.Verifier(), second.Verifier(), "PKCE verifiers must be per-attempt")

	firstURL, err := url.Parse(first.AuthCodeURL())
	require.NoError(t, err)
	secondURL, err := url.Parse(second.AuthCodeURL())
	require.NoError(t, err)
	assert.NotEqual(t, firstURL.Query().Get("state"), secondURL.Query().Get("state"))

	// One flow's state is meaningless to another.
	assert.False(t, second.ValidateState(firstURL.Query().Get("state")))
}
