package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/haasonsaas/botgate/pkg/config"
	"github.com/haasonsaas/botgate/pkg/health"
	"github.com/haasonsaas/botgate/pkg/secrets"
	"github.com/haasonsaas/botgate/pkg/storage"
	"github.com/haasonsaas/botgate/pkg/telemetry"
	"github.com/haasonsaas/botgate/pkg/users"
)

var (
	configPath = flag.String("config", "botgate.yaml", "Config file path")
	Version    = "dev"
)

// Server gates incoming bot requests behind authentication, authorization,
// and per-user rate limits.
type Server struct {
	svc         *users.Service
	store       *storage.Store
	rateLimiter *RateLimiter
	adminToken  string
	checkRate   int
	log         zerolog.Logger
	dbProbe     health.Probe
	vaultProbe  health.Probe
}

func main() {
	flag.Parse()
	ctx := context.Background()

	bootLogger := zerolog.New(os.Stderr)
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("botgate server starting")

	provider, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "botgate-server",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		LogSpans:       cfg.Tracing.LogSpans,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	defer provider.Shutdown(ctx)

	vault, err := secrets.New(ctx, secrets.Options{
		Address:         cfg.Vault.Address,
		Token:           cfg.Vault.Token,
		AppRoleID:       cfg.Vault.AppRoleID,
		AppRoleSecretID: cfg.Vault.AppRoleSecretID,
		Mount:           cfg.Vault.Mount,
		ConfigPrefix:    cfg.Vault.ConfigPrefix,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to vault")
	}

	var storeOpts []storage.Option
	if cfg.Audit.RedactUserIDs {
		storeOpts = append(storeOpts, storage.WithPseudonymizer(
			storage.NewPseudonymizer([]byte(cfg.Audit.Salt)),
		))
	}
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, storeOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}

	adminToken, err := cfg.ResolveAdminToken()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve admin token")
	}
	if adminToken == "" {
		logger.Warn().Msg("No admin token configured, admin endpoints disabled")
	}

	srv := &Server{
		svc:         users.NewService(vault, store, logger),
		store:       store,
		rateLimiter: NewRateLimiter(),
		adminToken:  adminToken,
		checkRate:   cfg.Server.CheckRatePerMinute,
		log:         logger,
		dbProbe:     store.Ping,
		vaultProbe:  vault.Health,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(withRequestContext(logger))
	srv.registerRoutes(r)

	logger.Info().Str("listen", cfg.Server.Listen).Msg("Listening")
	if err := r.Run(cfg.Server.Listen); err != nil {
		logger.Fatal().Err(err).Msg("Server exited")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
