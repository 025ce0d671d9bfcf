package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/sqlinline"
)

// RequestRepositoryPG implements domain.RequestRepository.
type RequestRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRequestRepository creates a request repository backed by PostgreSQL.
func NewRequestRepository(sql infra.SQLExecutor) *RequestRepositoryPG {
	return &RequestRepositoryPG{sql: sql}
}

var _ domain.RequestRepository = (*RequestRepositoryPG)(nil)

// Create inserts a new request record.
func (r *RequestRepositoryPG) Create(ctx context.Context, req *domain.GenerationRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertRequest,
		req.ID,
		req.UserID,
		string(req.Channel),
		string(req.Status),
		nullableBytes(req.Input),
		req.OutputCount,
		req.UnitsReserved,
		req.CreatedAt,
	)
	return err
}

// Update applies a forward status transition. Terminal rows are never
// rewritten; such attempts return domain.ErrAlreadyFinalized.
func (r *RequestRepositoryPG) Update(ctx context.Context, id string, update domain.RequestUpdate) error {
	// every row starts PROCESSING, so a target unreachable from there is never valid
	if !domain.StatusProcessing.CanTransition(update.Status) {
		return fmt.Errorf("invalid target status %q", update.Status)
	}
	var providers []byte
	if update.Providers != nil {
		raw, err := json.Marshal(update.Providers)
		if err != nil {
			return fmt.Errorf("encode providers: %w", err)
		}
		providers = raw
	}
	var in, out, total *int
	if update.Tokens != nil {
		in, out, total = &update.Tokens.Input, &update.Tokens.Output, &update.Tokens.Total
	}

	var updatedID string
	err := r.sql.QueryRow(ctx, sqlinline.QUpdateRequest,
		id,
		string(update.Status),
		update.EnhancedPrompt,
		providers,
		in,
		out,
		total,
		update.ErrorMessage,
		update.CompletedAt,
	).Scan(&updatedID)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return err
	}

	var raw string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectRequestStatus, id).Scan(&raw); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	current := domain.RequestStatus(raw)
	if current.IsTerminal() {
		return domain.ErrAlreadyFinalized
	}
	if !current.CanTransition(update.Status) {
		return fmt.Errorf("invalid transition %s -> %s", current, update.Status)
	}
	return fmt.Errorf("request %s changed concurrently", id)
}

// GetForUser fetches a request owned by userID.
func (r *RequestRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.GenerationRequest, error) {
	req, err := scanRequest(r.sql.QueryRow(ctx, sqlinline.QSelectRequestForUser, id, userID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// ListByUser returns a page of requests, newest first, plus the total count.
func (r *RequestRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.GenerationRequest, int, error) {
	var total int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountRequestsByUser, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.sql.Query(ctx, sqlinline.QListRequestsByUser, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListUnsettled returns up to limit requests created before cutoff whose
// quota reservation has no settlement, oldest first.
func (r *RequestRepositoryPG) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]domain.GenerationRequest, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListUnsettledRequests, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// DeleteForUser removes a finished request and its results.
func (r *RequestRepositoryPG) DeleteForUser(ctx context.Context, id, userID string) error {
	var deleted string
	err := r.sql.QueryRow(ctx, sqlinline.QDeleteRequestForUser, id, userID).Scan(&deleted)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return err
	}
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectRequestStatusForUser, id, userID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return domain.ErrRequestInProgress
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.GenerationRequest, error) {
	var (
		req       domain.GenerationRequest
		channel   string
		status    string
		providers []byte
	)
	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&channel,
		&status,
		&req.Input,
		&req.EnhancedPrompt,
		&req.OutputCount,
		&req.UnitsReserved,
		&providers,
		&req.Tokens.Input,
		&req.Tokens.Output,
		&req.Tokens.Total,
		&req.ErrorMessage,
		&req.CreatedAt,
		&req.CompletedAt,
	); err != nil {
		return nil, err
	}
	req.Channel = domain.Channel(channel)
	req.Status = domain.RequestStatus(status)
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &req.Providers); err != nil {
			return nil, fmt.Errorf("decode providers: %w", err)
		}
	}
	return &req, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
