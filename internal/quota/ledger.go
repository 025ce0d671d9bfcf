// Package quota meters generation requests against each user's allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"gensvc/internal/domain"
	"gensvc/internal/metrics"
)

// Admission is a granted reservation that must be settled with Commit or
// Release exactly once.
type Admission struct {
	UserID string
	Units  int
}

// Ledger answers admission questions and settles reservations.
type Ledger struct {
	accounts  domain.QuotaRepository
	usage     domain.UsageRepository
	analytics domain.AnalyticsRepository
	logger    zerolog.Logger
	now       func() time.Time
}

// Options configures a Ledger.
type Options struct {
	Usage     domain.UsageRepository
	Analytics domain.AnalyticsRepository
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// NewLedger constructs a Ledger over the quota repository.
func NewLedger(accounts domain.QuotaRepository, opts Options) *Ledger {
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "quota").Logger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		accounts:  accounts,
		usage:     opts.Usage,
		analytics: opts.Analytics,
		logger:    logger,
		now:       now,
	}
}

// CheckAdmission reserves units for userID. Denial returns a
// *domain.QuotaExceededError and leaves the account untouched.
func (l *Ledger) CheckAdmission(ctx context.Context, userID string, units int) (Admission, error) {
	if units <= 0 {
		return Admission{}, &domain.ValidationError{Field: "units", Reason: "must be positive"}
	}
	ok, err := l.accounts.Reserve(ctx, userID, units)
	if err != nil {
		return Admission{}, fmt.Errorf("reserve quota: %w", err)
	}
	if ok {
		metrics.RecordAdmission("admitted")
		return Admission{UserID: userID, Units: units}, nil
	}

	metrics.RecordAdmission("denied")
	acct, err := l.accounts.Find(ctx, userID)
	if err != nil {
		return Admission{}, fmt.Errorf("load quota account: %w", err)
	}
	denial := &domain.QuotaExceededError{
		Plan:      PlanDisplayName(acct.Plan),
		Needed:    units,
		Remaining: acct.Remaining(),
	}
	denial.Message = fmt.Sprintf("%s plan quota exceeded: this request needs %d units but only %d remain (short by %d)",
		denial.Plan, denial.Needed, denial.Remaining, denial.Shortfall())
	l.logger.Info().
		Str("user_id", userID).
		Str("plan", acct.Plan).
		Int("needed", units).
		Int("remaining", denial.Remaining).
		Msg("admission denied")
	return Admission{}, denial
}

// Commit charges an admission for a completed request. Replays for the same
// request are no-ops.
func (l *Ledger) Commit(ctx context.Context, adm Admission, requestID string) error {
	applied, err := l.accounts.Commit(ctx, adm.UserID, requestID, adm.Units)
	metrics.RecordSettlement("commit", metrics.Status(err))
	if err != nil {
		return fmt.Errorf("commit quota: %w", err)
	}
	if !applied {
		l.logger.Debug().Str("request_id", requestID).Msg("quota already settled")
	}
	return nil
}

// Release returns an admission's reserved units without charging them.
func (l *Ledger) Release(ctx context.Context, adm Admission, requestID string) error {
	err := l.accounts.Release(ctx, adm.UserID, requestID, adm.Units)
	metrics.RecordSettlement("release", metrics.Status(err))
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

// RecordAnalytics stores token usage on the analytics side-channel. It never
// fails the caller; errors are logged.
func (l *Ledger) RecordAnalytics(ctx context.Context, userID, requestID string, usage domain.TokenUsage, props map[string]any) {
	if l.usage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Str("request_id", requestID).Msg("record analytics panicked")
		}
	}()
	if err := l.usage.InsertUsageEvent(ctx, userID, requestID, usage, props); err != nil {
		l.logger.Warn().Err(err).Str("request_id", requestID).Str("stage", usage.Stage).Msg("record analytics failed")
	}
}

// Outcome summarizes a finished run for the daily counters.
type Outcome struct {
	Status      domain.RequestStatus
	Artifacts   int
	ItemsFailed int
}

// RecordOutcome bumps the daily pipeline counters. Errors are logged only.
func (l *Ledger) RecordOutcome(ctx context.Context, outcome Outcome) {
	if l.analytics == nil {
		return
	}
	counters := map[string]int{
		"requests":            1,
		"artifacts_generated": outcome.Artifacts,
		"items_failed":        outcome.ItemsFailed,
	}
	if outcome.Status == domain.StatusCompleted {
		counters["request_success"] = 1
	} else {
		counters["request_fail"] = 1
	}
	day := l.now().UTC().Format("2006-01-02")
	if err := l.analytics.IncrementCounters(ctx, day, counters); err != nil {
		l.logger.Warn().Err(err).Str("day", day).Msg("record outcome failed")
	}
}

// Status returns the user's account. Users without an account yet are
// reported as not found.
func (l *Ledger) Status(ctx context.Context, userID string) (*domain.QuotaAccount, error) {
	acct, err := l.accounts.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load quota account: %w", err)
	}
	return acct, nil
}

// PlanDisplayName renders a stored plan identifier for user-facing messages.
func PlanDisplayName(plan string) string {
	plan = strings.TrimSpace(strings.ReplaceAll(plan, "_", " "))
	if plan == "" {
		return "Free"
	}
	return cases.Title(language.English).String(plan)
}
