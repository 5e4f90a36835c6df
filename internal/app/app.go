package app

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veloxapp/authcore/internal/api"
	"github.com/veloxapp/authcore/internal/cache"
	"github.com/veloxapp/authcore/internal/events"
	"github.com/veloxapp/authcore/internal/pipeline"
	"github.com/veloxapp/authcore/internal/repository"
	"github.com/veloxapp/authcore/internal/secure"
	"github.com/veloxapp/authcore/internal/storage"
	"github.com/veloxapp/authcore/pkg/logger"
)

// App is the application-scoped container owning the full auth stack. All
// state lives in explicitly constructed instances whose lifetime is tied to
// this container; there are no package-level singletons to reset.
type App struct {
	Config  *Config
	DB      *gorm.DB
	Bus     *events.Bus
	Creds   *secure.CredentialStore
	Cookies *secure.CookieStore
	Users   *cache.UserCache
	API     *api.Client
	Auth    *repository.AuthRepository
	Janitor *cache.Janitor

	log *zap.Logger
}

// New wires storage, stores, caches, the pipeline, and the repository.
func New(cfg *Config) (*App, error) {
	a := &App{Config: cfg, log: logger.WithModule("app")}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := storage.Open(storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	a.DB = db

	masterKey, err := DecodeKey(cfg.Storage.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	store, err := secure.NewStore(db, masterKey)
	if err != nil {
		return nil, err
	}

	a.Creds, err = secure.NewCredentialStore(store)
	if err != nil {
		return nil, err
	}
	a.Cookies, err = secure.NewCookieStore(store)
	if err != nil {
		return nil, err
	}
	a.Cookies.Initialize()

	a.Users, err = cache.NewUserCache(db)
	if err != nil {
		return nil, err
	}

	a.Bus = events.NewBus()

	pinHost, err := hostOf(cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Pinning.Host != "" {
		pinHost = cfg.Pinning.Host
	}
	base := pipeline.PinnedTransport(pinHost, cfg.Pinning.Pins, pipeline.BaseTransport(cfg.API.Timeout))

	authStage := pipeline.NewAuthInterceptor(a.Creds, a.Bus, api.RefreshPath)
	chain := pipeline.NewChain(base,
		pipeline.NewRetryInterceptor(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
		pipeline.NewLoggingInterceptor(),
		authStage,
	)

	a.API, err = api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		UserAgent: cfg.API.UserAgent,
	}, chain, a.Cookies, a.Bus)
	if err != nil {
		return nil, err
	}
	// The refresh call rides the same pipeline, so the interceptor learns its
	// refresher only after the client exists.
	authStage.SetRefresher(a.API)

	a.Auth, err = repository.NewAuthRepository(a.API, a.Creds, a.Cookies, a.Users, a.Bus)
	if err != nil {
		return nil, err
	}

	a.Janitor = cache.NewJanitor(
		[]cache.Sweepable{a.Users},
		cache.WithSweepSpec(cfg.Cache.SweepSpec),
	)
	if err := a.Janitor.Start(); err != nil {
		return nil, fmt.Errorf("start cache janitor: %w", err)
	}

	ok = true
	return a, nil
}

// Close stops background work and releases resources. Safe on a partially
// constructed container.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	if a.Cookies != nil {
		// Give the fire-and-forget cookie persist a chance to land.
		a.Cookies.Flush()
	}
	if a.DB != nil {
		if err := storage.Close(a.DB); err != nil {
			a.log.Warn("closing storage failed", zap.Error(err))
		}
	}
}

// HTTPTimeout reports the effective per-attempt transport timeout, for
// diagnostics.
func (a *App) HTTPTimeout() time.Duration {
	if a.Config.API.Timeout > 0 {
		return a.Config.API.Timeout
	}
	return pipeline.DefaultAttemptTimeout
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid api base url %q", raw)
	}
	return u.Hostname(), nil
}
