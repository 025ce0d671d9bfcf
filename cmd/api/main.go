package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gensvc/internal/adapter/repo"
	"gensvc/internal/domain/jsoncfg"
	"gensvc/internal/generation"
	"gensvc/internal/http/handlers"
	httpapi "gensvc/internal/http/httpapi"
	"gensvc/internal/infra"
	"gensvc/internal/infra/credentials"
	"gensvc/internal/infra/geoip"
	"gensvc/internal/middleware"
	"gensvc/internal/providers/artifact"
	"gensvc/internal/quota"
	"gensvc/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)

	requests := repo.NewRequestRepository(runner)
	results := repo.NewResultRepository(runner)
	ephemeral := repo.NewEphemeralAssetRepository(runner)
	ledger := quota.NewLedger(
		repo.NewQuotaRepository(runner, cfg.DefaultPlan, cfg.DefaultRequestLimit),
		quota.Options{
			Usage:     repo.NewUsageRepository(runner),
			Analytics: repo.NewAnalyticsRepository(runner),
			Logger:    &logger,
		},
	)

	objects, staticDir, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open object storage")
	}
	assets := storage.NewAssetStore(objects, ephemeral, storage.AssetOptions{
		DefaultTTL: cfg.EphemeralTTL,
		Logger:     logger,
	})

	// client supplied media URLs are limited to the allow-listed hosts
	mediaFetcher := artifact.NewFetcher(artifact.FetcherOptions{
		Timeout:      cfg.ProviderTimeout,
		MaxBytes:     jsoncfg.MaxMediaBytes,
		AllowedHosts: cfg.MediaHostAllowlist,
	})
	providers := buildProviders(ctx, cfg, credentials.NewStore(runner), logger)

	channels, err := jsoncfg.LoadChannels(cfg.ChannelsConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load channel config")
	}
	orchestrator := generation.New(requests, results, ledger, assets, providers, generation.Options{
		Channels:     channels,
		Concurrency:  cfg.FanoutConcurrency,
		ItemRetries:  cfg.ItemRetries,
		ItemTimeout:  cfg.ItemTimeout,
		Deadline:     cfg.PipelineDeadline,
		EphemeralTTL: cfg.EphemeralTTL,
		Fetcher:      mediaFetcher,
		Logger:       &logger,
	})

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip lookups disabled")
	}
	defer resolver.Close()
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Config:   cfg,
		Logger:   &logger,
		Pipeline: orchestrator,
		Quotas:   ledger,
		Objects:  objects,
		DB:       dbpool,
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		CountryLookup: lookup,
		StaticDir:     staticDir,
	})
	server := infra.NewHTTPServer(cfg, router, logger)
	if err := server.Listen(); err != nil {
		logger.Fatal().Err(err).Msg("http listen failed")
	}

	go func() {
		logger.Info().Str("storage", objects.Driver()).Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	// in-flight generations may run up to the pipeline deadline
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PipelineDeadline+10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
