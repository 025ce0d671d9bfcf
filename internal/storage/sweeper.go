package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/metrics"
)

// Sweeper purges ephemeral assets whose expiry has passed. Rows are leased
// by ClaimExpired so concurrent sweepers never purge the same asset twice.
type Sweeper struct {
	assets  *AssetStore
	repo    domain.EphemeralAssetRepository
	batch   int
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	tasks []sweepTask
}

// Task is extra maintenance run after each scheduled sweep.
type Task func(ctx context.Context, now time.Time) error

type sweepTask struct {
	name string
	run  Task
}

// SweepResult summarizes one pass.
type SweepResult struct {
	Claimed int
	Purged  int
	Failed  int
}

func NewSweeper(assets *AssetStore, repo domain.EphemeralAssetRepository, batch int, log zerolog.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		assets:  assets,
		repo:    repo,
		batch:   batch,
		timeout: 2 * time.Minute,
		log:     log.With().Str("component", "ephemeral-sweeper").Logger(),
	}
}

// RunOnce purges everything expired at now, in batches. Failed purges keep
// their row and are retried after the lease lapses.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		claimed, err := s.repo.ClaimExpired(ctx, now, s.batch)
		if err != nil {
			return res, fmt.Errorf("claim expired assets: %w", err)
		}
		res.Claimed += len(claimed)
		purged := 0
		for _, asset := range claimed {
			if !asset.Expired(now) {
				continue
			}
			if err := s.assets.Purge(ctx, asset.StorageKey); err != nil {
				res.Failed++
				metrics.RecordSweep("error")
				s.log.Warn().Err(err).Str("key", asset.StorageKey).Msg("purge expired asset")
				continue
			}
			purged++
			metrics.RecordSweep("success")
		}
		res.Purged += purged
		if len(claimed) < s.batch || purged == 0 {
			return res, nil
		}
	}
}

// AddTask registers fn to run after every scheduled sweep. It must be called
// before Start.
func (s *Sweeper) AddTask(name string, fn Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, sweepTask{name: name, run: fn})
}

// Start schedules RunOnce on a seconds-resolution cron spec. Overlapping
// runs are skipped.
func (s *Sweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})))
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", spec).Int("batch", s.batch).Msg("ephemeral sweeper started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("ephemeral sweeper stopped")
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	now := time.Now().UTC()
	res, err := s.RunOnce(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
	} else if res.Claimed > 0 {
		s.log.Info().Int("claimed", res.Claimed).Int("purged", res.Purged).Int("failed", res.Failed).Msg("sweep completed")
	}
	s.runTasks(ctx, now)
}

func (s *Sweeper) runTasks(ctx context.Context, now time.Time) {
	s.mu.Lock()
	tasks := append([]sweepTask(nil), s.tasks...)
	s.mu.Unlock()
	for _, t := range tasks {
		if err := t.run(ctx, now); err != nil {
			s.log.Error().Err(err).Str("task", t.name).Msg("maintenance task failed")
		}
	}
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
