package domain

import (
	"context"
	"time"
)

// RequestRepository persists generation requests.
type RequestRepository interface {
	Create(ctx context.Context, req *GenerationRequest) error
	Update(ctx context.Context, id string, update RequestUpdate) error
	GetForUser(ctx context.Context, id, userID string) (*GenerationRequest, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]GenerationRequest, int, error)
	DeleteForUser(ctx context.Context, id, userID string) error
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]GenerationRequest, error)
}

// ResultRepository persists generation results.
type ResultRepository interface {
	Append(ctx context.Context, result *GenerationResult) error
	ListByRequest(ctx context.Context, requestID string) ([]GenerationResult, error)
	DeleteByRequest(ctx context.Context, requestID string) error
}

// QuotaRepository performs the atomic quota updates.
type QuotaRepository interface {
	Find(ctx context.Context, userID string) (*QuotaAccount, error)
	Reserve(ctx context.Context, userID string, units int) (bool, error)
	Commit(ctx context.Context, userID, requestID string, units int) (bool, error)
	Release(ctx context.Context, userID, requestID string, units int) error
}

// EphemeralAssetRepository tracks time-bounded stored objects.
type EphemeralAssetRepository interface {
	Create(ctx context.Context, asset *EphemeralAsset) error
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]EphemeralAsset, error)
	DeleteByKey(ctx context.Context, storageKey string) error
}

// UsageRepository records analytics-only events.
type UsageRepository interface {
	InsertUsageEvent(ctx context.Context, userID, requestID string, usage TokenUsage, props map[string]any) error
}

// AnalyticsRepository updates daily pipeline counters.
type AnalyticsRepository interface {
	IncrementCounters(ctx context.Context, day string, counters map[string]int) error
	GetSummary(ctx context.Context) (*AnalyticsDaily, error)
}
