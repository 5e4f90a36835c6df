package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/internal/models"
	"github.com/veloxapp/authcore/internal/secure"
	"github.com/veloxapp/authcore/pkg/apperr"
	"github.com/veloxapp/authcore/pkg/validator"
)

// Backend endpoint paths.
const (
	loginPath    = "/auth/login/mobile"
	registerPath = "/auth/register/mobile"
	exchangePath = "/auth/exchange"
	logoutPath   = "/auth/logout"
	mePath       = "/auth/me"

	// RefreshPath is exported so the pipeline can exempt the refresh
	// endpoint from bearer injection and 401 recovery.
	RefreshPath = "/auth/refresh"
)

// Config describes the backend the client talks to. Deadlines are not set
// here: per-attempt timeouts live on the pipeline's base transport, and
// callers bound total time through the request context. A whole-call client
// timeout would cancel the context mid-backoff and turn a slow attempt into
// an abort instead of a retry.
type Config struct {
	BaseURL   string
	UserAgent string
}

// Session bundles the token pair and user returned by the auth endpoints.
type Session struct {
	Tokens secure.TokenPair
	User   models.User
}

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

// Client issues requests against the auth backend. Every call rides the
// configured pipeline transport and terminates in the safe-call layer, which
// owns all status-code interpretation.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	bus        *events.Bus
	userAgent  string
}

// NewClient builds a client over the given transport (normally the pipeline
// chain) and cookie jar.
func NewClient(cfg Config, transport http.RoundTripper, jar http.CookieJar, bus *events.Bus) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperr.InvalidURL(cfg.BaseURL, err)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		baseURL:   base,
		bus:       bus,
		userAgent: cfg.UserAgent,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type exchangeRequest struct {
	Code string `json:"code" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// sessionResponse is the success body for login/register/exchange/refresh.
type sessionResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         models.User `json:"user"`
}

func (r sessionResponse) toSession() *Session {
	return &Session{
		Tokens: secure.TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken},
		User:   r.User,
	}
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	payload := loginRequest{Email: email, Password: password}
	if err := validator.ValidateStruct(payload); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	req, err := c.newRequest(ctx, http.MethodPost, loginPath, payload)
	if err != nil {
		return nil, err
	}
	resp, err := Do[sessionResponse](c.bus, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	return resp.toSession(), nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, input RegisterInput) (*Session, error) {
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	req, err := c.newRequest(ctx, http.MethodPost, registerPath, input)
	if err != nil {
		return nil, err
	}
	resp, err := Do[sessionResponse](c.bus, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	return resp.toSession(), nil
}

// Exchange trades an OAuth authorization code for a session.
func (c *Client) Exchange(ctx context.Context, code string) (*Session, error) {
	payload := exchangeRequest{Code: code}
	if err := validator.ValidateStruct(payload); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	req, err := c.newRequest(ctx, http.MethodPost, exchangePath, payload)
	if err != nil {
		return nil, err
	}
	resp, err := Do[sessionResponse](c.bus, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	return resp.toSession(), nil
}

// Logout invalidates the server-side session. An empty response body is fine.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, logoutPath, nil)
	if err != nil {
		return err
	}
	return DoDiscard(c.bus, c.httpClient, req)
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, mePath, nil)
	if err != nil {
		return nil, err
	}
	return Do[models.User](c.bus, c.httpClient, req)
}

// Refresh exchanges a refresh token for a new pair. Satisfies
// pipeline.Refresher; the request is exempt from 401 recovery by path.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (secure.TokenPair, error) {
	payload := refreshRequest{RefreshToken: refreshToken}
	if err := validator.ValidateStruct(payload); err != nil {
		return secure.TokenPair{}, apperr.Validation(err.Error())
	}

	req, err := c.newRequest(ctx, http.MethodPost, RefreshPath, payload)
	if err != nil {
		return secure.TokenPair{}, err
	}
	resp, err := Do[sessionResponse](c.bus, c.httpClient, req)
	if err != nil {
		return secure.TokenPair{}, err
	}
	return secure.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	target := *c.baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Encoding(err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, apperr.InvalidURL(target.String(), err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}
