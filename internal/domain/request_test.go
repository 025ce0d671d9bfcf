package domain

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		ok       bool
	}{
		{StatusProcessing, StatusAnalyzing, true},
		{StatusProcessing, StatusGenerating, true},
		{StatusAnalyzing, StatusGenerating, true},
		{StatusGenerating, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusGenerating, StatusAnalyzing, false},
		{StatusGenerating, StatusGenerating, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
		{RequestStatus("QUEUED"), StatusGenerating, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestQuotaRemaining(t *testing.T) {
	acct := QuotaAccount{RequestsLimit: 50, RequestsUsed: 45, RequestsReserved: 3}
	if got := acct.Remaining(); got != 2 {
		t.Fatalf("Remaining = %d, want 2", got)
	}
	acct.RequestsReserved = 10
	if got := acct.Remaining(); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
	unlimited := QuotaAccount{RequestsLimit: UnlimitedQuota, RequestsUsed: 1000}
	if !unlimited.Unlimited() || unlimited.Remaining() != UnlimitedQuota {
		t.Fatalf("unlimited account misreported: %+v", unlimited)
	}
}

func TestTokenCountersAdd(t *testing.T) {
	var total TokenCounters
	total.Add(TokenCounters{Input: 10, Output: 5})
	total.Add(TokenCounters{Input: 1, Output: 1, Total: 3})
	if total.Input != 11 || total.Output != 6 || total.Total != 18 {
		t.Fatalf("unexpected totals: %+v", total)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")
	perr := &ProviderError{Provider: "openai", Capability: "image_generate", Status: 502, Err: cause}
	if !errors.Is(perr, ErrProviderFailure) || !errors.Is(perr, cause) {
		t.Fatalf("ProviderError chain broken: %v", perr)
	}
	if got := perr.Error(); got != "openai image_generate status 502: connection reset" {
		t.Fatalf("ProviderError message = %q", got)
	}

	serr := &StorageError{Op: "put", Key: "a/b.png"}
	if !errors.Is(serr, ErrStorageFailure) {
		t.Fatalf("StorageError should match ErrStorageFailure")
	}

	shape := &ShapeError{Provider: "qwen", Fields: []string{"output", "request_id"}}
	if shape.Error() != "qwen: unrecognized response shape (fields: output,request_id)" {
		t.Fatalf("ShapeError message = %q", shape.Error())
	}

	insufficient := &InsufficientResultsError{Generated: 2, Expected: 3, Noun: "thumbnails"}
	if insufficient.Error() != "Generated 2 thumbnails; expected 3" {
		t.Fatalf("InsufficientResultsError message = %q", insufficient.Error())
	}

	quota := &QuotaExceededError{Plan: "Free", Needed: 2, Remaining: 1}
	if quota.Shortfall() != 1 || !errors.Is(quota, ErrQuotaExceeded) {
		t.Fatalf("QuotaExceededError misbehaves: %+v", quota)
	}
}

func TestEphemeralAssetExpired(t *testing.T) {
	asset := EphemeralAsset{ExpiresAt: mustTime(t, "2025-01-02T00:00:00Z")}
	if asset.Expired(mustTime(t, "2025-01-01T23:59:59Z")) {
		t.Fatalf("asset expired before its expiry")
	}
	if !asset.Expired(mustTime(t, "2025-01-02T00:00:00Z")) {
		t.Fatalf("asset not expired at its expiry")
	}
}
