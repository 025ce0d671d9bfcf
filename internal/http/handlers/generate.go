package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gensvc/internal/domain"
	"gensvc/internal/domain/jsoncfg"
	"gensvc/internal/generation"
	"gensvc/internal/middleware"
)

// maxGenerateBody leaves room for base64 media plus the ChannelSpec fields.
const maxGenerateBody = jsoncfg.MaxMediaBytes*4/3 + 64<<10

type resultDTO struct {
	Index       int    `json:"index"`
	URL         string `json:"url,omitempty"`
	Variant     string `json:"variant,omitempty"`
	Text        string `json:"text,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

type generateResponse struct {
	Success        bool        `json:"success"`
	RequestID      string      `json:"requestId"`
	Status         string      `json:"status"`
	Results        []resultDTO `json:"results"`
	ProcessingTime int64       `json:"processingTime"`
}

// Generate runs a generation request synchronously.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	var spec jsoncfg.ChannelSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err := dec.Decode(&spec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", "media exceeds the upload limit")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", localeMsg(r, "invalid_payload"))
		return
	}

	handle, err := a.Pipeline.Submit(r.Context(), userID, spec,
		generation.WithLocale(middleware.LocaleFromContext(r.Context())),
		generation.WithCountry(middleware.CountryFromContext(r.Context())),
	)
	if err != nil {
		a.submitError(w, r, err)
		return
	}

	if handle.Status != domain.StatusCompleted {
		a.json(w, http.StatusBadGateway, map[string]any{
			"success":        false,
			"requestId":      handle.RequestID,
			"status":         string(handle.Status),
			"message":        handle.ErrorMessage,
			"error":          "generation_failed",
			"processingTime": handle.ProcessingTime.Milliseconds(),
		})
		return
	}

	resp := generateResponse{
		Success:        true,
		RequestID:      handle.RequestID,
		Status:         string(handle.Status),
		Results:        make([]resultDTO, 0, len(handle.Results)),
		ProcessingTime: handle.ProcessingTime.Milliseconds(),
	}
	for _, res := range handle.Results {
		resp.Results = append(resp.Results, resultDTO{
			Index:       res.Index,
			URL:         res.URL,
			Variant:     res.Variant,
			Text:        res.Text,
			ContentType: res.ContentType,
		})
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) submitError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		a.json(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": verr.Error(),
			"error":   "validation_error",
			"field":   verr.Field,
		})
		return
	}
	var qerr *domain.QuotaExceededError
	if errors.As(err, &qerr) {
		message := qerr.Message
		if message == "" {
			message = localeMsg(r, "quota_exceeded")
		}
		a.json(w, http.StatusPaymentRequired, map[string]any{
			"success":   false,
			"message":   message,
			"error":     "quota_exceeded",
			"plan":      qerr.Plan,
			"needed":    qerr.Needed,
			"remaining": qerr.Remaining,
		})
		return
	}
	a.log().Error().Err(err).Str("user_id", a.currentUserID(r)).Msg("generate failed")
	a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
}
