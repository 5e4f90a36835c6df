package oauth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/veloxapp/authcore/pkg/crypto"
)

// Config describes the external browser-based authorization flow. The token
// exchange itself happens against our own backend (auth/exchange), so only
// the authorization endpoint is needed here.
type Config struct {
	ClientID     string
	AuthURL      string
	Scopes       []string
	RedirectPort int
}

// Flow holds the per-attempt state and PKCE material for one browser
// authorization round trip.
type Flow struct {
	oauth    oauth2.Config
	state    string
	verifier string
}

// NewFlow generates fresh state and a PKCE verifier for a single attempt.
// Flows are single-use; start a new one for every login.
func NewFlow(cfg Config) (*Flow, error) {
	if cfg.ClientID == "" || cfg.AuthURL == "" {
		return nil, errors.New("oauth: client id and auth url are required")
	}
	if cfg.RedirectPort <= 0 {
		return nil, errors.New("oauth: redirect port is required")
	}

	state, err := crypto.GenerateToken(24)
	if err != nil {
		return nil, fmt.Errorf("oauth: generate state: %w", err)
	}

	return &Flow{
		oauth: oauth2.Config{
			ClientID:    cfg.ClientID,
			Endpoint:    oauth2.Endpoint{AuthURL: cfg.AuthURL},
			RedirectURL: fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.RedirectPort),
			Scopes:      cfg.Scopes,
		},
		state:    state,
		verifier: oauth2.GenerateVerifier(),
	}, nil
}

// AuthCodeURL returns the browser URL carrying state and the S256 challenge.
func (f *Flow) AuthCodeURL() string {
	return f.oauth.AuthCodeURL(f.state, oauth2.S256ChallengeOption(f.verifier))
}

// ValidateState guards the callback against CSRF and crossed flows.
func (f *Flow) ValidateState(state string) bool {
	return state != "" && state == f.state
}

// Verifier exposes the PKCE verifier for the backend exchange call.
func (f *Flow) Verifier() string {
	return f.verifier
}

// RedirectURL is the loopback address the browser returns to.
func (f *Flow) RedirectURL() string {
	return f.oauth.RedirectURL
}
