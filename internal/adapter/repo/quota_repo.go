package repo

import (
	"context"
	"time"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// QuotaRepositoryPG implements domain.QuotaRepository with single-statement
// conditional updates.
type QuotaRepositoryPG struct {
	sql          infra.SQLExecutor
	defaultPlan  string
	defaultLimit int
}

// NewQuotaRepository constructs the repository. Accounts missing at
// reservation time are provisioned with the default plan and limit.
func NewQuotaRepository(sql infra.SQLExecutor, defaultPlan string, defaultLimit int) *QuotaRepositoryPG {
	if defaultPlan == "" {
		defaultPlan = "free"
	}
	return &QuotaRepositoryPG{sql: sql, defaultPlan: defaultPlan, defaultLimit: defaultLimit}
}

var _ domain.QuotaRepository = (*QuotaRepositoryPG)(nil)

// Find returns the account for userID.
func (r *QuotaRepositoryPG) Find(ctx context.Context, userID string) (*domain.QuotaAccount, error) {
	acct, err := scanQuota(r.sql.QueryRow(ctx, sqlinline.QSelectQuotaAccount, userID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return acct, nil
}

// Reserve atomically holds units against the remaining balance. It reports
// false when the balance is insufficient.
func (r *QuotaRepositoryPG) Reserve(ctx context.Context, userID string, units int) (bool, error) {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureQuotaAccount, userID, r.defaultPlan, r.defaultLimit); err != nil {
		return false, err
	}
	var id string
	err := r.sql.QueryRow(ctx, sqlinline.QReserveQuota, userID, units).Scan(&id)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Commit converts a reservation into used units. It reports false when the
// request was already settled.
func (r *QuotaRepositoryPG) Commit(ctx context.Context, userID, requestID string, units int) (bool, error) {
	var used int
	err := r.sql.QueryRow(ctx, sqlinline.QCommitQuota, userID, requestID, units).Scan(&used)
	if err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release returns a reservation without charging it.
func (r *QuotaRepositoryPG) Release(ctx context.Context, userID, requestID string, units int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QReleaseQuota, userID, requestID, units)
	return err
}

// SetPlan assigns a plan, limit and period window, optionally resetting usage.
func (r *QuotaRepositoryPG) SetPlan(ctx context.Context, userID, plan string, limit int, start, end time.Time, resetUsage bool) (*domain.QuotaAccount, error) {
	return scanQuota(r.sql.QueryRow(ctx, sqlinline.QUpsertQuotaPlan, userID, plan, limit, start, end, resetUsage))
}

func scanQuota(row rowScanner) (*domain.QuotaAccount, error) {
	var acct domain.QuotaAccount
	if err := row.Scan(
		&acct.UserID,
		&acct.Plan,
		&acct.PeriodStart,
		&acct.PeriodEnd,
		&acct.RequestsUsed,
		&acct.RequestsLimit,
		&acct.RequestsReserved,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &acct, nil
}
