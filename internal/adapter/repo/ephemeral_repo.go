package repo

import (
	"context"
	"time"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// EphemeralAssetRepositoryPG implements domain.EphemeralAssetRepository.
type EphemeralAssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewEphemeralAssetRepository constructs the repository.
func NewEphemeralAssetRepository(sql infra.SQLExecutor) *EphemeralAssetRepositoryPG {
	return &EphemeralAssetRepositoryPG{sql: sql}
}

var _ domain.EphemeralAssetRepository = (*EphemeralAssetRepositoryPG)(nil)

// Create records an ephemeral asset with its absolute expiry.
func (r *EphemeralAssetRepositoryPG) Create(ctx context.Context, asset *domain.EphemeralAsset) error {
	return r.sql.QueryRow(ctx, sqlinline.QInsertEphemeralAsset,
		asset.StorageKey,
		asset.OwnerID,
		asset.RequestID,
		asset.ExpiresAt,
	).Scan(&asset.ID, &asset.CreatedAt)
}

// ClaimExpired leases up to limit assets whose expiry is at or before now.
func (r *EphemeralAssetRepositoryPG) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.EphemeralAsset, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QClaimExpiredEphemeralAssets, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.EphemeralAsset
	for rows.Next() {
		var a domain.EphemeralAsset
		if err := rows.Scan(&a.ID, &a.StorageKey, &a.OwnerID, &a.RequestID, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

// DeleteByKey removes the row for storageKey. Missing rows are not an error.
func (r *EphemeralAssetRepositoryPG) DeleteByKey(ctx context.Context, storageKey string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteEphemeralAssetByKey, storageKey)
	return err
}
