package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gensvc/internal/domain"
	"gensvc/internal/sqlinline"
)

func TestRequestUpdateTerminalIsFinal(t *testing.T) {
	db := &stubDB{rows: []stubRow{{err: errNoRows()}, {values: []any{"COMPLETED"}}}}
	repo := NewRequestRepository(db)

	msg := "late failure"
	err := repo.Update(context.Background(), "req-1", domain.RequestUpdate{Status: domain.StatusFailed, ErrorMessage: &msg})
	if !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if db.calls[0].query != sqlinline.QUpdateRequest {
		t.Fatalf("first call should be the guarded update")
	}
}

func TestRequestUpdateMissingRow(t *testing.T) {
	repo := NewRequestRepository(&stubDB{})
	err := repo.Update(context.Background(), "req-1", domain.RequestUpdate{Status: domain.StatusGenerating})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestUpdateEncodesProviders(t *testing.T) {
	db := &stubDB{rows: []stubRow{{values: []any{"req-1"}}}}
	repo := NewRequestRepository(db)
	update := domain.RequestUpdate{
		Status:    domain.StatusCompleted,
		Providers: &domain.StageProviders{Generation: "openai/dall-e-2"},
		Tokens:    &domain.TokenCounters{Input: 3, Output: 4, Total: 7},
	}
	if err := repo.Update(context.Background(), "req-1", update); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	args := db.calls[0].args
	if got := string(args[3].([]byte)); got != `{"generation":"openai/dall-e-2"}` {
		t.Fatalf("providers arg = %s", got)
	}
	if total := args[6].(*int); *total != 7 {
		t.Fatalf("tokens total arg = %d", *total)
	}
}

func TestRequestGetForUserNotFound(t *testing.T) {
	repo := NewRequestRepository(&stubDB{})
	if _, err := repo.GetForUser(context.Background(), "req-1", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestGetForUserScansRow(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &stubDB{rows: []stubRow{{values: []any{
		"req-1", "user-1", "image", "COMPLETED", []byte(`{"prompt":"x"}`), "enhanced", 3, 4,
		[]byte(`{"prompt":"gemini"}`), 1, 2, 3, "", created, created,
	}}}}
	repo := NewRequestRepository(db)
	req, err := repo.GetForUser(context.Background(), "req-1", "user-1")
	if err != nil {
		t.Fatalf("GetForUser error: %v", err)
	}
	if req.Channel != domain.ChannelImage || req.Status != domain.StatusCompleted {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Providers.Prompt != "gemini" || req.CompletedAt == nil {
		t.Fatalf("providers/completed not scanned: %+v", req)
	}
}

func TestRequestDeleteRunning(t *testing.T) {
	db := &stubDB{rows: []stubRow{{err: errNoRows()}, {values: []any{"GENERATING"}}}}
	repo := NewRequestRepository(db)
	if err := repo.DeleteForUser(context.Background(), "req-1", "user-1"); !errors.Is(err, domain.ErrRequestInProgress) {
		t.Fatalf("expected ErrRequestInProgress, got %v", err)
	}
}

func TestRequestDeleteMissing(t *testing.T) {
	repo := NewRequestRepository(&stubDB{})
	if err := repo.DeleteForUser(context.Background(), "req-1", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResultAppendAfterFinalization(t *testing.T) {
	repo := NewResultRepository(&stubDB{})
	res := &domain.GenerationResult{RequestID: "req-1", Index: 1, URL: "http://x/1.png"}
	if err := repo.Append(context.Background(), res); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if res.ID == "" {
		t.Fatalf("expected generated result id")
	}
}

func TestQuotaReserve(t *testing.T) {
	db := &stubDB{rows: []stubRow{{values: []any{"user-1"}}}}
	repo := NewQuotaRepository(db, "free", 50)
	ok, err := repo.Reserve(context.Background(), "user-1", 3)
	if err != nil || !ok {
		t.Fatalf("Reserve = %v, %v; want true", ok, err)
	}
	if db.calls[0].query != sqlinline.QEnsureQuotaAccount || db.calls[1].query != sqlinline.QReserveQuota {
		t.Fatalf("unexpected call order: %d calls", len(db.calls))
	}

	denied := NewQuotaRepository(&stubDB{}, "free", 50)
	ok, err = denied.Reserve(context.Background(), "user-1", 3)
	if err != nil || ok {
		t.Fatalf("Reserve on exhausted account = %v, %v; want false", ok, err)
	}
}

func TestQuotaCommitIdempotent(t *testing.T) {
	db := &stubDB{rows: []stubRow{{values: []any{12}}}}
	repo := NewQuotaRepository(db, "", 0)
	ok, err := repo.Commit(context.Background(), "user-1", "req-1", 5)
	if err != nil || !ok {
		t.Fatalf("first Commit = %v, %v", ok, err)
	}
	ok, err = repo.Commit(context.Background(), "user-1", "req-1", 5)
	if err != nil || ok {
		t.Fatalf("replayed Commit = %v, %v; want false", ok, err)
	}
}

func TestUsageEventPayload(t *testing.T) {
	db := &stubDB{}
	repo := NewUsageRepository(db)
	usage := domain.TokenUsage{Provider: "gemini", Model: "gemini-1.5-flash", Stage: "PROMPT", Counters: domain.TokenCounters{Input: 5, Output: 6, Total: 11}}
	if err := repo.InsertUsageEvent(context.Background(), "user-1", "req-1", usage, map[string]any{"success": false, "latency_ms": 42}); err != nil {
		t.Fatalf("InsertUsageEvent error: %v", err)
	}
	args := db.calls[0].args
	if args[2] != "TOKENS_PROMPT" || args[3] != false || args[4] != 42 {
		t.Fatalf("unexpected args: %#v", args[:5])
	}
}

func TestRequestUpdateRejectsUnknownTarget(t *testing.T) {
	db := &stubDB{}
	repo := NewRequestRepository(db)
	for _, status := range []domain.RequestStatus{"DONE", domain.StatusProcessing} {
		if err := repo.Update(context.Background(), "req-1", domain.RequestUpdate{Status: status}); err == nil {
			t.Fatalf("expected error for target %q", status)
		}
	}
	if len(db.calls) != 0 {
		t.Fatalf("queries issued for invalid targets: %d", len(db.calls))
	}
}

func TestRequestUpdateBackwardTransition(t *testing.T) {
	db := &stubDB{rows: []stubRow{{err: errNoRows()}, {values: []any{"GENERATING"}}}}
	repo := NewRequestRepository(db)
	err := repo.Update(context.Background(), "req-1", domain.RequestUpdate{Status: domain.StatusAnalyzing})
	if err == nil || !strings.Contains(err.Error(), "invalid transition GENERATING -> ANALYZING") {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRequestListUnsettledScansRows(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	cutoff := created.Add(time.Hour)
	db := &stubDB{queryRows: [][]any{
		{"req-1", "user-1", "image", "GENERATING", []byte(`{}`), "", 2, 4, nil, 0, 0, 0, "", created, nil},
		{"req-2", "user-1", "caption", "COMPLETED", []byte(`{}`), "", 3, 2, nil, 0, 0, 0, "", created, created},
	}}
	repo := NewRequestRepository(db)
	got, err := repo.ListUnsettled(context.Background(), cutoff, 50)
	if err != nil {
		t.Fatalf("ListUnsettled: %v", err)
	}
	if len(got) != 2 || got[0].Status != domain.StatusGenerating || got[0].UnitsReserved != 4 || got[1].CompletedAt == nil {
		t.Fatalf("unexpected rows: %+v", got)
	}
	c := db.calls[0]
	if c.query != sqlinline.QListUnsettledRequests || c.args[0] != cutoff || c.args[1] != 50 {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func TestResultDeleteByRequest(t *testing.T) {
	db := &stubDB{}
	if err := NewResultRepository(db).DeleteByRequest(context.Background(), "req-1"); err != nil {
		t.Fatalf("DeleteByRequest: %v", err)
	}
	if db.calls[0].query != sqlinline.QDeleteResultsByRequest || db.calls[0].args[0] != "req-1" {
		t.Fatalf("unexpected call: %+v", db.calls[0])
	}
}
