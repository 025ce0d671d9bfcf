package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/quota"
)

const staleMessage = "Request timed out"

// Reaper settles reservations an API process left behind. Requests still
// running past the cutoff are failed and released; terminal requests whose
// settlement errored are committed or released by status. Settlement is
// keyed by request id, so a late finalize of the same request is a no-op.
type Reaper struct {
	requests domain.RequestRepository
	results  domain.ResultRepository
	ledger   Ledger
	after    time.Duration
	batch    int
	logger   zerolog.Logger
}

// ReaperOptions tunes a Reaper.
type ReaperOptions struct {
	// After is how long past creation an unsettled request is abandoned.
	After  time.Duration
	Batch  int
	Logger *zerolog.Logger
}

// NewReaper constructs a Reaper.
func NewReaper(requests domain.RequestRepository, results domain.ResultRepository, ledger Ledger, opts ReaperOptions) *Reaper {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	after := opts.After
	if after <= 0 {
		after = defaultDeadline + 5*time.Minute
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{
		requests: requests,
		results:  results,
		ledger:   ledger,
		after:    after,
		batch:    batch,
		logger:   logger.With().Str("component", "request-reaper").Logger(),
	}
}

// RunOnce settles every unsettled request created before now minus After.
// Units are settled before a running row is marked failed, so a failed
// release leaves the row for the next pass.
func (r *Reaper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.after)
	reaped := 0
	for {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		stale, err := r.requests.ListUnsettled(ctx, cutoff, r.batch)
		if err != nil {
			return reaped, fmt.Errorf("list unsettled requests: %w", err)
		}
		failed := 0
		for i := range stale {
			if err := r.reap(ctx, &stale[i], now); err != nil {
				failed++
				r.logger.Warn().Err(err).Str("request_id", stale[i].ID).Msg("reap request failed")
				continue
			}
			reaped++
		}
		if len(stale) < r.batch || failed > 0 {
			return reaped, nil
		}
	}
}

func (r *Reaper) reap(ctx context.Context, req *domain.GenerationRequest, now time.Time) error {
	adm := quota.Admission{UserID: req.UserID, Units: req.UnitsReserved}
	switch req.Status {
	case domain.StatusCompleted:
		if err := r.ledger.Commit(ctx, adm, req.ID); err != nil {
			return err
		}
		r.logger.Info().Str("request_id", req.ID).Int("units", req.UnitsReserved).Msg("committed unsettled request")
		return nil
	case domain.StatusFailed:
		if err := r.ledger.Release(ctx, adm, req.ID); err != nil {
			return err
		}
		r.logger.Info().Str("request_id", req.ID).Int("units", req.UnitsReserved).Msg("released unsettled request")
		return nil
	}
	if err := r.ledger.Release(ctx, adm, req.ID); err != nil {
		return err
	}
	message := staleMessage
	completedAt := now.UTC()
	err := r.requests.Update(ctx, req.ID, domain.RequestUpdate{
		Status:       domain.StatusFailed,
		ErrorMessage: &message,
		CompletedAt:  &completedAt,
	})
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		// finished between listing and reaping; its results stay
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := r.results.DeleteByRequest(ctx, req.ID); err != nil {
		r.logger.Warn().Err(err).Str("request_id", req.ID).Msg("discard results failed")
	}
	r.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Int("units", req.UnitsReserved).
		Time("created_at", req.CreatedAt).
		Msg("stale request failed")
	return nil
}
