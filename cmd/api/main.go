package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vidgen/internal/http/handlers"
	httpapi "vidgen/internal/http/httpapi"
	"vidgen/internal/infra"
	"vidgen/internal/infra/geoip"
	"vidgen/internal/infra/oidc"
	"vidgen/internal/middleware"
	"vidgen/internal/queue"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")
	if err := cfg.ValidateAPI(); err != nil {
		logger.Fatal().Err(err).Msg("api: invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	if cfg.DBAutoMigrate {
		if err := infra.Migrate(ctx, runner); err != nil {
			logger.Fatal().Err(err).Msg("api: migrate failed")
		}
	}

	var sink queue.Sink
	switch cfg.QueueBackend {
	case infra.QueueKafka:
		ks := queue.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopicJobs)
		defer ks.Close()
		sink = ks
	default:
		pq, err := queue.NewPostgres(runner, nil, queue.PostgresOptions{Logger: logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("api: queue setup failed")
		}
		defer pq.Close()
		sink = pq
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	app := handlers.NewApp(runner, sink, logger)
	app.TokenCostPerSecond = cfg.TokenCostPerSecond

	opts := httpapi.Options{
		Logger:          logger,
		DefaultLocale:   cfg.DefaultLocale,
		CountryLookup:   lookup,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
	}
	if cfg.StorageBackend == infra.StorageFile {
		opts.StaticDir = cfg.StoragePath
	}
	if cfg.OIDCIssuer != "" {
		verifier, err := oidc.NewVerifier(oidc.Options{
			Issuer:   cfg.OIDCIssuer,
			Audience: cfg.OIDCAudience,
			JWKSURL:  cfg.OIDCJWKSURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("api: oidc setup failed")
		}
		opts.Verifiers = append(opts.Verifiers, idTokenVerifier(verifier))
	}
	if cfg.JWTSecret == "" && cfg.OIDCIssuer == "" {
		logger.Warn().Msg("api: no token verification configured, requester id is taken from the request body")
	}

	server := infra.NewHTTPServer(cfg, cfg.Port, httpapi.NewRouter(app, opts))
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api: http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}

func idTokenVerifier(v *oidc.Verifier) middleware.TokenVerifier {
	return middleware.TokenVerifierFunc(func(ctx context.Context, token string) (*middleware.TokenClaims, error) {
		claims, err := v.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		out := &middleware.TokenClaims{Sub: claims.Subject, Locale: claims.Locale}
		if !claims.Expires.IsZero() {
			out.Exp = claims.Expires.Unix()
		}
		return out, nil
	})
}
