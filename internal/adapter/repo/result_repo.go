package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// ResultRepositoryPG implements domain.ResultRepository.
type ResultRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewResultRepository constructs the repository.
func NewResultRepository(sql infra.SQLExecutor) *ResultRepositoryPG {
	return &ResultRepositoryPG{sql: sql}
}

var _ domain.ResultRepository = (*ResultRepositoryPG)(nil)

// Append inserts a result for a request that has not been finalized.
func (r *ResultRepositoryPG) Append(ctx context.Context, result *domain.GenerationResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	var id string
	err := r.sql.QueryRow(ctx, sqlinline.QInsertResult,
		result.ID,
		result.RequestID,
		result.Index,
		result.URL,
		result.StorageKey,
		result.ContentType,
		result.Variant,
		result.Text,
		result.CreatedAt,
	).Scan(&id)
	if infra.IsNoRows(err) {
		return domain.ErrAlreadyFinalized
	}
	return err
}

// ListByRequest returns results ordered by index.
func (r *ResultRepositoryPG) ListByRequest(ctx context.Context, requestID string) ([]domain.GenerationResult, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListResultsByRequest, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.GenerationResult
	for rows.Next() {
		var res domain.GenerationResult
		if err := rows.Scan(&res.ID, &res.RequestID, &res.Index, &res.URL, &res.StorageKey, &res.ContentType, &res.Variant, &res.Text, &res.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteByRequest removes every result of a request.
func (r *ResultRepositoryPG) DeleteByRequest(ctx context.Context, requestID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteResultsByRequest, requestID)
	return err
}
