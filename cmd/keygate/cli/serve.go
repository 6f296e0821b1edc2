package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
)

const banner = `
 _  _________   _____   ___ _____ ___
| |/ / ____\ \ / / __| /_\_   _| __|
| ' <|  _|  \ V / (_ |/ _ \| | | _|
|_|\_\____|  |_| \___/_/ \_\_| |___|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keygate gateway",
		Long:  "Start the HTTP server that exposes the admin API and gates every configured upstream route.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	// Set up logger
	logger, err := newLogger(cfg.Logging, dev, os.Stderr)
	if err != nil {
		return err
	}

	// 1. Secrets
	hasher, err := newHasher(cfg)
	if err != nil {
		return err
	}
	adminTokens, err := newAdminTokens(cfg)
	if err != nil {
		return err
	}
	verifyTimeout, err := parseDuration("auth.verify_timeout", cfg.Auth.VerifyTimeout)
	if err != nil {
		return err
	}
	shutdownTimeout, err := parseDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	if err != nil {
		return err
	}

	// 2. Credential store
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("credential store initialized", "driver", store.Dialect())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Counter store and limiter
	lcfg, err := limiterConfig(cfg)
	if err != nil {
		return err
	}
	counter, closeCounter, err := openCounter(ctx, cfg, lcfg.DefaultWindow)
	if err != nil {
		return err
	}
	defer closeCounter()
	if cfg.RateLimit.RedisURL != "" {
		if err := counter.Ping(ctx); err != nil {
			// Requests are still admitted while Redis is down; see limiter.
			logger.Warn("counter store unreachable at startup", "error", err)
		}
		logger.Info("counter store initialized", "backend", "redis")
	} else {
		logger.Info("counter store initialized", "backend", "memory")
	}
	limiter := ratelimit.New(counter, lcfg, logger)

	// 4. Usage recorder
	rcfg, err := recorderConfig(cfg)
	if err != nil {
		return err
	}
	recorder := service.NewUsageRecorder(store, rcfg, logger)

	// 5. Build and start HTTP server
	srvCfg := server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    shutdownTimeout,
		CORSOrigins:        cfg.Server.CORSOrigins,
		AdminRatePerMinute: cfg.Admin.IPRatePerMinute,
		CredentialHeader:   cfg.Auth.Header,
		Routes:             serverRoutes(cfg),
		Version:            versionString(),
	}
	srv, err := server.New(srvCfg, server.Deps{
		Store:       store,
		Counter:     counter,
		Limiter:     limiter,
		Verifier:    service.NewVerifier(store, hasher, verifyTimeout),
		Recorder:    recorder,
		Keys:        service.NewKeyService(store, service.NewKeyIssuer(store, hasher), limiter),
		AdminTokens: adminTokens,
	}, logger)
	if err != nil {
		recorder.Close()
		return err
	}

	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Admin API:  http://%s:%d/api/v1/system\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	for _, r := range srvCfg.Routes {
		fmt.Printf("→ Route:      %s -> %s\n", r.Prefix, r.Upstream)
	}
	fmt.Println()

	return srv.Run(ctx)
}
