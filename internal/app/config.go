package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/veloxapp/authcore/pkg/validator"
)

// Config is the runtime configuration for the auth client core.
type Config struct {
	API     APIConfig     `mapstructure:"api" validate:"required"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Pinning PinningConfig `mapstructure:"pinning"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig describes the backend endpoint. Timeout bounds each transport
// attempt (connect, TLS handshake, response headers), not the whole call;
// a slow attempt fails fast and stays retryable.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" json:"base_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// RetryConfig tunes the pipeline retry stage.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// PinningConfig restricts TLS to known server keys for one host. An empty
// pin list disables pinning.
type PinningConfig struct {
	Host string   `mapstructure:"host"`
	Pins []string `mapstructure:"pins"`
}

// StorageConfig locates the on-device database and its master key.
type StorageConfig struct {
	Path      string `mapstructure:"path"`
	MasterKey string `mapstructure:"master_key" validate:"required"`
}

// CacheConfig tunes the cache janitor.
type CacheConfig struct {
	SweepSpec string `mapstructure:"sweep_spec"`
}

// OAuthConfig describes the browser-based sign-in flow.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	AuthURL      string   `mapstructure:"auth_url"`
	Scopes       []string `mapstructure:"scopes"`
	RedirectPort int      `mapstructure:"redirect_port"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig initialises configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.ValidateStruct(config); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.user_agent", "authcore-go")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")

	v.SetDefault("storage.path", "./data/authcore.sqlite")

	v.SetDefault("cache.sweep_spec", "@every 1m")

	v.SetDefault("oauth.redirect_port", 48321)
	v.SetDefault("oauth.scopes", "openid,profile,email")

	v.SetDefault("log.level", "info")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
