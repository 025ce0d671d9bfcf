package generation

import (
	"context"
	"errors"
	"fmt"

	"gensvc/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// HistoryPage is one page of a user's requests, newest first.
type HistoryPage struct {
	Items []domain.GenerationRequest
	Total int
	Page  int
	Size  int
}

// RequestView is a request together with its ordered results.
type RequestView struct {
	Request domain.GenerationRequest
	Results []domain.GenerationResult
}

// History lists userID's requests. page is 1-based; out-of-range sizes are
// clamped.
func (o *Orchestrator) History(ctx context.Context, userID string, page, size int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	items, total, err := o.requests.ListByUser(ctx, userID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return &HistoryPage{Items: items, Total: total, Page: page, Size: size}, nil
}

// Get returns a request owned by userID with its results.
func (o *Orchestrator) Get(ctx context.Context, userID, id string) (*RequestView, error) {
	req, err := o.requests.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	results, err := o.results.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return &RequestView{Request: *req, Results: results}, nil
}

// Delete removes a finished request owned by userID, then purges its stored
// results. Requests still running return domain.ErrRequestInProgress.
func (o *Orchestrator) Delete(ctx context.Context, userID, id string) error {
	view, err := o.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !view.Request.Status.IsTerminal() {
		return domain.ErrRequestInProgress
	}
	if err := o.requests.DeleteForUser(ctx, id, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrRequestInProgress) {
			return err
		}
		return fmt.Errorf("delete request: %w", err)
	}
	for _, res := range view.Results {
		if res.StorageKey == "" {
			continue
		}
		if err := o.assets.Purge(ctx, res.StorageKey); err != nil {
			o.logger.Warn().Err(err).Str("request_id", id).Str("key", res.StorageKey).Msg("purge result failed")
		}
	}
	o.logger.Info().Str("request_id", id).Str("user_id", userID).Int("results", len(view.Results)).Msg("request deleted")
	return nil
}
