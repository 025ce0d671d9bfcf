package repo

import (
	"context"
	"encoding/json"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// UsageRepositoryPG writes analytics-only usage events.
type UsageRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewUsageRepository constructs the repository.
func NewUsageRepository(sql infra.SQLExecutor) *UsageRepositoryPG {
	return &UsageRepositoryPG{sql: sql}
}

var _ domain.UsageRepository = (*UsageRepositoryPG)(nil)

// InsertUsageEvent stores one token usage record.
func (r *UsageRepositoryPG) InsertUsageEvent(ctx context.Context, userID, requestID string, usage domain.TokenUsage, props map[string]any) error {
	payload := map[string]any{
		"provider":      usage.Provider,
		"model":         usage.Model,
		"stage":         usage.Stage,
		"input_tokens":  usage.Counters.Input,
		"output_tokens": usage.Counters.Output,
		"total_tokens":  usage.Counters.Total,
	}
	for k, v := range props {
		payload[k] = v
	}
	success := true
	if v, ok := props["success"].(bool); ok {
		success = v
	}
	latency := 0
	if v, ok := props["latency_ms"].(int); ok {
		latency = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	eventType := "TOKENS"
	if usage.Stage != "" {
		eventType = "TOKENS_" + usage.Stage
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertUsageEvent, userID, requestID, eventType, success, latency, raw)
	return err
}
