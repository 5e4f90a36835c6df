package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
)

// Result is the outcome delivered by the provider redirect: either an
// authorization code or the provider's error string.
type Result struct {
	Code string
	Err  error
}

// CallbackServer is a short-lived loopback listener that catches the browser
// redirect ending the authorization flow. The redirect carries either
// success=true&code=... or success=false&error=...; the result is delivered
// exactly once.
type CallbackServer struct {
	flow   *Flow
	port   int
	log    *zap.Logger
	srv    *http.Server
	addr   string
	result chan Result
	once   sync.Once
}

// NewCallbackServer builds a listener for the given flow.
func NewCallbackServer(flow *Flow, port int) *CallbackServer {
	return &CallbackServer{
		flow:   flow,
		port:   port,
		log:    logger.WithModule("oauth.callback"),
		result: make(chan Result, 1),
	}
}

// Start binds the loopback listener and begins serving in the background.
func (s *CallbackServer) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/callback", s.handleCallback)

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("oauth: listen on %s: %w", addr, err)
	}

	s.addr = listener.Addr().String()
	s.srv = &http.Server{Handler: router}
	go func() {
		if serveErr := s.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.deliver(Result{Err: serveErr})
		}
	}()

	s.log.Debug("callback listener started", zap.String("addr", s.addr))
	return nil
}

// Addr reports the bound listener address, useful when port 0 was requested.
func (s *CallbackServer) Addr() string {
	return s.addr
}

// Wait blocks until the redirect arrives or ctx expires.
func (s *CallbackServer) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-s.result:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Shutdown stops the listener.
func (s *CallbackServer) Shutdown(ctx context.Context) {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
}

func (s *CallbackServer) handleCallback(c *gin.Context) {
	state := c.Query("state")
	if !s.flow.ValidateState(state) {
		c.String(http.StatusBadRequest, "Invalid state. Close this window and try again.")
		s.deliver(Result{Err: errors.New("oauth: state mismatch")})
		return
	}

	if c.Query("success") == "false" || c.Query("error") != "" {
		providerErr := c.Query("error")
		if providerErr == "" {
			providerErr = "authorization declined"
		}
		c.String(http.StatusOK, "Sign-in failed. You can close this window.")
		s.deliver(Result{Err: fmt.Errorf("oauth: provider error: %s", providerErr)})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.String(http.StatusBadRequest, "Missing authorization code.")
		s.deliver(Result{Err: errors.New("oauth: callback missing code")})
		return
	}

	c.String(http.StatusOK, "Signed in. You can close this window.")
	s.deliver(Result{Code: code})
}

func (s *CallbackServer) deliver(res Result) {
	s.once.Do(func() {
		s.result <- res
	})
}
