package repo

import (
	"context"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// AnalyticsRepositoryPG implements AnalyticsRepository using PostgreSQL.
type AnalyticsRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(sql infra.SQLExecutor) *AnalyticsRepositoryPG {
	return &AnalyticsRepositoryPG{sql: sql}
}

var _ domain.AnalyticsRepository = (*AnalyticsRepositoryPG)(nil)

// IncrementCounters upserts counters for the provided day (YYYY-MM-DD).
func (r *AnalyticsRepositoryPG) IncrementCounters(ctx context.Context, day string, counters map[string]int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QIncrementAnalyticsDaily,
		day,
		counters["requests"],
		counters["request_success"],
		counters["request_fail"],
		counters["artifacts_generated"],
		counters["items_failed"],
	)
	return err
}

// GetSummary returns the most recent day's counters.
func (r *AnalyticsRepositoryPG) GetSummary(ctx context.Context) (*domain.AnalyticsDaily, error) {
	var summary domain.AnalyticsDaily
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectLatestAnalytics).Scan(
		&summary.Day,
		&summary.Requests,
		&summary.RequestSuccess,
		&summary.RequestFail,
		&summary.ArtifactsGenerated,
		&summary.ItemsFailed,
		&summary.CreatedAt,
		&summary.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &summary, nil
}
