package secure

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenKey  = "auth.access_token"
	refreshTokenKey = "auth.refresh_token"
)

// TokenPair holds the opaque access/refresh token strings issued by the
// backend. Values are stored only inside the encrypted store and must never
// be logged in full.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// CredentialStore persists the current token pair in the encrypted store.
// The pair mutex keeps both tokens moving together: a reader never observes
// a new access token alongside a stale refresh token.
type CredentialStore struct {
	mu    sync.RWMutex
	store *Store
}

// NewCredentialStore wraps the encrypted store with token-pair semantics.
func NewCredentialStore(store *Store) (*CredentialStore, error) {
	if store == nil {
		return nil, errors.New("secure: store is required")
	}
	return &CredentialStore{store: store}, nil
}

// Tokens returns the stored pair. ok is false when no access token is stored.
func (c *CredentialStore) Tokens() (TokenPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	access, ok := c.store.Get(accessTokenKey)
	if !ok || access == "" {
		return TokenPair{}, false
	}
	refresh, _ := c.store.Get(refreshTokenKey)

	return TokenPair{AccessToken: access, RefreshToken: refresh}, true
}

// AccessToken returns just the current access token, if any.
func (c *CredentialStore) AccessToken() (string, bool) {
	pair, ok := c.Tokens()
	if !ok {
		return "", false
	}
	return pair.AccessToken, true
}

// SetTokens persists a new pair, replacing any previous one.
func (c *CredentialStore) SetTokens(pair TokenPair) error {
	if pair.AccessToken == "" {
		return errors.New("secure: access token is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(accessTokenKey, pair.AccessToken); err != nil {
		return err
	}
	return c.store.Set(refreshTokenKey, pair.RefreshToken)
}

// Clear removes both tokens.
func (c *CredentialStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(accessTokenKey); err != nil {
		return err
	}
	return c.store.Delete(refreshTokenKey)
}

// AccessTokenExpiry peeks at the exp claim of the stored access token without
// verifying the signature; the client has no signing key and only needs a
// refresh hint. ok is false when no token is stored or it carries no exp.
func (c *CredentialStore) AccessTokenExpiry() (time.Time, bool) {
	access, ok := c.AccessToken()
	if !ok {
		return time.Time{}, false
	}

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(access, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
