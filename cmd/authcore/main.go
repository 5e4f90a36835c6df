package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/veloxapp/authcore/internal/api"
	"github.com/veloxapp/authcore/internal/app"
	"github.com/veloxapp/authcore/internal/models"
	"github.com/veloxapp/authcore/internal/oauth"
	"github.com/veloxapp/authcore/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authcore", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath string
		email      string
		password   string
		name       string
		refresh    bool
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")
	fs.StringVar(&email, "email", "", "Email for login/signup")
	fs.StringVar(&password, "password", "", "Password for login/signup")
	fs.StringVar(&name, "name", "", "Display name for signup")
	fs.BoolVar(&refresh, "refresh", false, "Bypass the user cache on 'me'")

	if err := fs.Parse(args); err != nil {
		return err
	}
	command := fs.Arg(0)
	if command == "" {
		return errors.New("usage: authcore [flags] login|signup|me|logout|oauth|clear")
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Log.Level); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	container, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	watchSessionEvents(ctx, container)

	switch command {
	case "login":
		user, err := container.Auth.Login(ctx, email, password)
		if err != nil {
			return err
		}
		printUser("signed in", user)

	case "signup":
		user, err := container.Auth.SignUp(ctx, api.RegisterInput{Email: email, Password: password, Name: name})
		if err != nil {
			return err
		}
		printUser("account created", user)

	case "me":
		user, err := container.Auth.GetUser(ctx, refresh)
		if err != nil {
			return err
		}
		printUser("current user", user)

	case "logout":
		if err := container.Auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")

	case "oauth":
		user, err := runOAuthFlow(ctx, container)
		if err != nil {
			return err
		}
		printUser("signed in via oauth", user)

	case "clear":
		if err := container.Auth.ClearSession(); err != nil {
			return err
		}
		fmt.Println("session cleared")

	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}

func runOAuthFlow(ctx context.Context, container *app.App) (*models.User, error) {
	cfg := container.Config.OAuth
	flow, err := oauth.NewFlow(oauth.Config{
		ClientID:     cfg.ClientID,
		AuthURL:      cfg.AuthURL,
		Scopes:       cfg.Scopes,
		RedirectPort: cfg.RedirectPort,
	})
	if err != nil {
		return nil, err
	}

	server := oauth.NewCallbackServer(flow, cfg.RedirectPort)
	if err := server.Start(); err != nil {
		return nil, err
	}
	defer server.Shutdown(context.Background())

	fmt.Println("open this URL in your browser to sign in:")
	fmt.Println("  " + flow.AuthCodeURL())

	result, err := server.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, result.Err
	}

	return container.Auth.ExchangeOAuthCode(ctx, result.Code)
}

func watchSessionEvents(ctx context.Context, container *app.App) {
	events, unsubscribe := container.Bus.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				logger.Warn("session event", zap.String("type", event.Type.String()))
			case <-ctx.Done():
				return
			}
		}
	}()
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func printUser(label string, user *models.User) {
	fmt.Printf("%s: %s <%s>\n", label, user.Name, user.Email)
}
