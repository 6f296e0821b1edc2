package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
)

// loadSettings returns the effective configuration: defaults, then the YAML
// file viper located, then KEYGATE_* environment variables and bound flags.
func loadSettings() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()

	if path := viper.ConfigFileUsed(); path != "" {
		_, statErr := os.Stat(path)
		if cfgFile != "" || statErr == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	overrideString(&cfg.Server.Host, "server.host")
	overrideInt(&cfg.Server.Port, "server.port")
	overrideString(&cfg.Server.ShutdownTimeout, "server.shutdown_timeout")
	overrideString(&cfg.Auth.HashSecret, "auth.hash_secret")
	overrideString(&cfg.Auth.AdminJWTSecret, "auth.admin_jwt_secret")
	overrideString(&cfg.Auth.Header, "auth.header")
	overrideString(&cfg.Auth.VerifyTimeout, "auth.verify_timeout")
	overrideString(&cfg.Store.Driver, "store.driver")
	overrideString(&cfg.Store.DSN, "store.dsn")
	overrideString(&cfg.Store.DataDir, "store.data_dir")
	overrideInt(&cfg.RateLimit.DefaultLimit, "rate_limit.default_limit")
	overrideString(&cfg.RateLimit.DefaultWindow, "rate_limit.default_window")
	overrideString(&cfg.RateLimit.Timeout, "rate_limit.timeout")
	overrideString(&cfg.RateLimit.RedisURL, "rate_limit.redis_url")
	overrideInt(&cfg.Usage.BufferSize, "usage.buffer_size")
	overrideBool(&cfg.Usage.BlockIfFull, "usage.block_if_full")
	overrideString(&cfg.Usage.WriteTimeout, "usage.write_timeout")
	overrideInt(&cfg.Admin.IPRatePerMinute, "admin.ip_rate_per_minute")
	overrideString(&cfg.Logging.Level, "logging.level")
	overrideString(&cfg.Logging.Format, "logging.format")

	if dataDir != "" {
		cfg.Store.DataDir = dataDir
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = resolveDataDir()
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(dst *int, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(dst *bool, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}

// newLogger builds the process logger. dev forces debug level.
func newLogger(cfg config.LoggingConfig, dev bool, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q", cfg.Format)
	}
}

// openStore opens the configured credential store.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	dsn := cfg.Store.DSN
	if cfg.Store.Driver == "" || cfg.Store.Driver == config.DialectSQLite {
		dsn = cfg.Store.DataDir
	} else if dsn == "" {
		return nil, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
	}
	store, err := config.Open(cfg.Store.Driver, dsn, config.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return store, nil
}

// openCounter returns the Redis counter store when rate_limit.redis_url is
// set, otherwise an in-process counter swept until ctx is done. The returned
// func releases the counter's resources.
func openCounter(ctx context.Context, cfg *config.YAMLConfig, window time.Duration) (ratelimit.CounterStore, func(), error) {
	if cfg.RateLimit.RedisURL == "" {
		counter := ratelimit.NewMemoryCounter()
		counter.StartSweeper(ctx, window)
		return counter, func() {}, nil
	}
	counter, client, err := ratelimit.NewRedisCounterFromURL(cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return counter, func() { client.Close() }, nil
}

func limiterConfig(cfg *config.YAMLConfig) (ratelimit.Config, error) {
	window, err := parseDuration("rate_limit.default_window", cfg.RateLimit.DefaultWindow)
	if err != nil {
		return ratelimit.Config{}, err
	}
	timeout, err := parseDuration("rate_limit.timeout", cfg.RateLimit.Timeout)
	if err != nil {
		return ratelimit.Config{}, err
	}
	if cfg.RateLimit.DefaultLimit <= 0 {
		return ratelimit.Config{}, errors.New("rate_limit.default_limit must be positive")
	}
	if window < time.Second {
		return ratelimit.Config{}, errors.New("rate_limit.default_window must be at least 1s")
	}
	return ratelimit.Config{
		DefaultLimit:  cfg.RateLimit.DefaultLimit,
		DefaultWindow: window,
		Timeout:       timeout,
	}, nil
}

func recorderConfig(cfg *config.YAMLConfig) (service.RecorderConfig, error) {
	timeout, err := parseDuration("usage.write_timeout", cfg.Usage.WriteTimeout)
	if err != nil {
		return service.RecorderConfig{}, err
	}
	return service.RecorderConfig{
		BufferSize:   cfg.Usage.BufferSize,
		BlockIfFull:  cfg.Usage.BlockIfFull,
		WriteTimeout: timeout,
	}, nil
}

func newHasher(cfg *config.YAMLConfig) (*service.SecretHasher, error) {
	if cfg.Auth.HashSecret == "" {
		return nil, errors.New("auth.hash_secret is not set (use KEYGATE_AUTH_HASH_SECRET or 'keygate config init')")
	}
	return service.NewSecretHasher(cfg.Auth.HashSecret)
}

func newAdminTokens(cfg *config.YAMLConfig) (*service.AdminTokens, error) {
	if cfg.Auth.AdminJWTSecret == "" {
		return nil, errors.New("auth.admin_jwt_secret is not set (use KEYGATE_AUTH_ADMIN_JWT_SECRET or 'keygate config init')")
	}
	return service.NewAdminTokens(cfg.Auth.AdminJWTSecret)
}

func serverRoutes(cfg *config.YAMLConfig) []server.Route {
	routes := make([]server.Route, len(cfg.Routes))
	for i, r := range cfg.Routes {
		routes[i] = server.Route{
			Prefix:        r.Prefix,
			Upstream:      r.Upstream,
			RequiredScope: r.RequiredScope,
			StripPrefix:   r.StripPrefix,
		}
	}
	return routes
}

// keyEnv is what the offline key and usage commands need.
type keyEnv struct {
	store *config.Store
	keys  *service.KeyService
	close func()
}

// openKeyEnv opens the credential store and counter store for commands that
// manage keys without a running server.
func openKeyEnv(ctx context.Context) (*keyEnv, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	hasher, err := newHasher(cfg)
	if err != nil {
		return nil, err
	}
	lcfg, err := limiterConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	counter, closeCounter, err := openCounter(sweepCtx, cfg, lcfg.DefaultWindow)
	if err != nil {
		cancel()
		store.Close()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	limiter := ratelimit.New(counter, lcfg, logger)
	return &keyEnv{
		store: store,
		keys:  service.NewKeyService(store, service.NewKeyIssuer(store, hasher), limiter),
		close: func() {
			cancel()
			closeCounter()
			store.Close()
		},
	}, nil
}
