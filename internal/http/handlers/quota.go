package handlers

import (
	"errors"
	"net/http"
	"time"

	"gensvc/internal/domain"
	"gensvc/internal/quota"
)

type quotaDTO struct {
	Plan        string     `json:"plan"`
	PlanName    string     `json:"planName"`
	Used        int        `json:"used"`
	Reserved    int        `json:"reserved"`
	Limit       int        `json:"limit"`
	Remaining   int        `json:"remaining"`
	Unlimited   bool       `json:"unlimited"`
	PeriodStart *time.Time `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time `json:"periodEnd,omitempty"`
}

// Quota reports the caller's allowance. Users who never submitted a request
// see the default plan.
func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	acct, err := a.Quotas.Status(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		acct = &domain.QuotaAccount{UserID: userID, Plan: "free", RequestsLimit: domain.UnlimitedQuota}
		if a.Config != nil {
			acct.Plan = a.Config.DefaultPlan
			acct.RequestsLimit = a.Config.DefaultRequestLimit
		}
		err = nil
	}
	if err != nil {
		a.log().Error().Err(err).Str("user_id", userID).Msg("quota status failed")
		a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
		return
	}
	dto := quotaDTO{
		Plan:      acct.Plan,
		PlanName:  quota.PlanDisplayName(acct.Plan),
		Used:      acct.RequestsUsed,
		Reserved:  acct.RequestsReserved,
		Limit:     acct.RequestsLimit,
		Remaining: acct.Remaining(),
		Unlimited: acct.Unlimited(),
	}
	if !acct.PeriodStart.IsZero() {
		dto.PeriodStart = &acct.PeriodStart
		dto.PeriodEnd = &acct.PeriodEnd
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "quota": dto})
}
