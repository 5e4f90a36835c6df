package repository

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/veloxapp/authcore/internal/api"
	"github.com/veloxapp/authcore/internal/cache"
	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/internal/models"
	"github.com/veloxapp/authcore/internal/secure"
	"github.com/veloxapp/authcore/pkg/apperr"
	"github.com/veloxapp/authcore/pkg/logger"
)

// AuthRepository is the use-case-facing surface of the auth core. It owns the
// ordering between network calls, credential persistence, and the user cache;
// all error values crossing out of it are typed *apperr.Error.
type AuthRepository struct {
	api     *api.Client
	creds   *secure.CredentialStore
	cookies *secure.CookieStore
	users   *cache.UserCache
	bus     *events.Bus
	log     *zap.Logger
}

// NewAuthRepository wires the repository over its collaborators.
func NewAuthRepository(
	client *api.Client,
	creds *secure.CredentialStore,
	cookies *secure.CookieStore,
	users *cache.UserCache,
	bus *events.Bus,
) (*AuthRepository, error) {
	if client == nil || creds == nil || users == nil {
		return nil, errors.New("repository: api client, credential store, and user cache are required")
	}
	return &AuthRepository{
		api:     client,
		creds:   creds,
		cookies: cookies,
		users:   users,
		bus:     bus,
		log:     logger.WithModule("repository.auth"),
	}, nil
}

// Login authenticates with email/password, persists the issued token pair,
// and seeds the user cache.
func (r *AuthRepository) Login(ctx context.Context, email, password string) (*models.User, error) {
	session, err := r.api.Login(ctx, email, password)
	if err != nil {
		return nil, asCredentialFailure(err)
	}
	return r.adoptSession(ctx, session)
}

// SignUp registers a new account and signs it in.
func (r *AuthRepository) SignUp(ctx context.Context, input api.RegisterInput) (*models.User, error) {
	session, err := r.api.Register(ctx, input)
	if err != nil {
		return nil, err
	}
	return r.adoptSession(ctx, session)
}

// ExchangeOAuthCode trades the browser-flow authorization code for a session.
func (r *AuthRepository) ExchangeOAuthCode(ctx context.Context, code string) (*models.User, error) {
	session, err := r.api.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.adoptSession(ctx, session)
}

// Me fetches the current user from the network and refreshes the cache.
func (r *AuthRepository) Me(ctx context.Context) (*models.User, error) {
	user, err := r.api.Me(ctx)
	if err != nil {
		return nil, err
	}
	if cacheErr := r.users.Set(ctx, user); cacheErr != nil {
		r.log.Warn("caching user failed", zap.Error(cacheErr))
	}
	return user, nil
}

// GetUser returns the signed-in user. With forceRefresh it always issues a
// network call; otherwise the cache answers when it can.
func (r *AuthRepository) GetUser(ctx context.Context, forceRefresh bool) (*models.User, error) {
	if forceRefresh {
		return r.Me(ctx)
	}
	user, err := r.users.GetOrLoad(ctx, r.api.Me)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NoData()
	}
	return user, nil
}

// Logout tells the backend to invalidate the session, then clears local state
// regardless of whether the call succeeded. A dead session on an unreachable
// server is still a logged-out device.
func (r *AuthRepository) Logout(ctx context.Context) error {
	if err := r.api.Logout(ctx); err != nil {
		r.log.Info("server-side logout failed, clearing local session anyway", zap.Error(err))
	}
	return r.ClearSession()
}

// ClearSession wipes credentials, cookies, and cached user data, reporting
// every failure rather than the first one.
func (r *AuthRepository) ClearSession() error {
	var errs error

	errs = multierr.Append(errs, r.creds.Clear())
	if r.cookies != nil {
		errs = multierr.Append(errs, r.cookies.Clear())
	}
	errs = multierr.Append(errs, r.users.Clear(context.Background()))

	if errs != nil {
		return apperr.Generic("clearing session state failed", errs)
	}
	return nil
}

// adoptSession persists tokens and seeds the cache after any call that
// returns a fresh session.
func (r *AuthRepository) adoptSession(ctx context.Context, session *api.Session) (*models.User, error) {
	if err := r.creds.SetTokens(session.Tokens); err != nil {
		return nil, apperr.Generic("persisting credentials failed", err)
	}
	if err := r.users.Set(ctx, &session.User); err != nil {
		r.log.Warn("seeding user cache failed", zap.Error(err))
	}
	return &session.User, nil
}

// asCredentialFailure narrows a 401 on an unauthenticated login attempt to
// invalid credentials. The safe-call layer cannot tell the two apart; here we
// know no session existed to expire.
func asCredentialFailure(err error) error {
	if apperr.KindOf(err) == apperr.KindSessionExpired {
		return apperr.InvalidCredentials().WithCause(err)
	}
	return err
}
