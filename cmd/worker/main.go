package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gensvc/internal/adapter/repo"
	"gensvc/internal/generation"
	"gensvc/internal/infra"
	"gensvc/internal/quota"
	"gensvc/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	objects, _, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	ephemeral := repo.NewEphemeralAssetRepository(runner)
	assets := storage.NewAssetStore(objects, ephemeral, storage.AssetOptions{
		DefaultTTL: cfg.EphemeralTTL,
		Logger:     logger,
	})
	sweeper := storage.NewSweeper(assets, ephemeral, cfg.SweepBatch, logger)

	ledger := quota.NewLedger(
		repo.NewQuotaRepository(runner, cfg.DefaultPlan, cfg.DefaultRequestLimit),
		quota.Options{Logger: &logger},
	)
	reaper := generation.NewReaper(repo.NewRequestRepository(runner), repo.NewResultRepository(runner), ledger, generation.ReaperOptions{
		After:  cfg.StaleRequestAfter,
		Batch:  cfg.SweepBatch,
		Logger: &logger,
	})
	sweeper.AddTask("stale-requests", func(ctx context.Context, now time.Time) error {
		_, err := reaper.RunOnce(ctx, now)
		return err
	})

	// catch up on anything that expired while the worker was down
	now := time.Now().UTC()
	if res, err := sweeper.RunOnce(ctx, now); err != nil {
		logger.Warn().Err(err).Msg("worker: startup sweep failed")
	} else {
		logger.Info().Int("claimed", res.Claimed).Int("purged", res.Purged).Int("failed", res.Failed).Msg("worker: startup sweep done")
	}
	if n, err := reaper.RunOnce(ctx, now); err != nil {
		logger.Warn().Err(err).Msg("worker: startup reap failed")
	} else if n > 0 {
		logger.Info().Int("reaped", n).Msg("worker: failed stale requests")
	}

	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule sweeper")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("worker: metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sweeper.Stop(shutdownCtx)
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
