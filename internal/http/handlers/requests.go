package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gensvc/internal/domain"
	"gensvc/internal/storage"
	"gensvc/pkg/zip"
)

type requestDTO struct {
	ID             string                `json:"id"`
	Channel        string                `json:"channel"`
	Status         string                `json:"status"`
	OutputCount    int                   `json:"outputCount"`
	EnhancedPrompt string                `json:"enhancedPrompt,omitempty"`
	Providers      domain.StageProviders `json:"providers"`
	Tokens         domain.TokenCounters  `json:"tokens"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	Input          json.RawMessage       `json:"input,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
}

func toRequestDTO(req domain.GenerationRequest) requestDTO {
	dto := requestDTO{
		ID:             req.ID,
		Channel:        string(req.Channel),
		Status:         string(req.Status),
		OutputCount:    req.OutputCount,
		EnhancedPrompt: req.EnhancedPrompt,
		Providers:      req.Providers,
		Tokens:         req.Tokens,
		ErrorMessage:   req.ErrorMessage,
		CreatedAt:      req.CreatedAt,
		CompletedAt:    req.CompletedAt,
	}
	if json.Valid(req.Input) {
		dto.Input = req.Input
	}
	return dto
}

// History lists the caller's requests, newest first.
func (a *App) History(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	hist, err := a.Pipeline.History(r.Context(), userID, page, size)
	if err != nil {
		a.log().Error().Err(err).Str("user_id", userID).Msg("history failed")
		a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
		return
	}
	items := make([]requestDTO, 0, len(hist.Items))
	for _, req := range hist.Items {
		items = append(items, toRequestDTO(req))
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   items,
		"total":   hist.Total,
		"page":    hist.Page,
		"size":    hist.Size,
	})
}

// GetRequest returns one request with its results.
func (a *App) GetRequest(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	id, ok := requestID(r)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", localeMsg(r, "not_found"))
		return
	}
	view, err := a.Pipeline.Get(r.Context(), userID, id)
	if err != nil {
		a.lookupError(w, r, err)
		return
	}
	results := make([]resultDTO, 0, len(view.Results))
	for _, res := range view.Results {
		results = append(results, resultDTO{
			Index:       res.Index,
			URL:         res.URL,
			Variant:     res.Variant,
			Text:        res.Text,
			ContentType: res.ContentType,
		})
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"request": toRequestDTO(view.Request),
		"results": results,
	})
}

// DeleteRequest removes a finished request and its stored results.
func (a *App) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	id, ok := requestID(r)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", localeMsg(r, "not_found"))
		return
	}
	if err := a.Pipeline.Delete(r.Context(), userID, id); err != nil {
		a.lookupError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "requestId": id})
}

// Archive streams a zip of a completed request's results.
func (a *App) Archive(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localeMsg(r, "unauthorized"))
		return
	}
	id, ok := requestID(r)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", localeMsg(r, "not_found"))
		return
	}
	view, err := a.Pipeline.Get(r.Context(), userID, id)
	if err != nil {
		a.lookupError(w, r, err)
		return
	}
	if view.Request.Status != domain.StatusCompleted {
		a.error(w, http.StatusConflict, "not_completed", localeMsg(r, "not_completed"))
		return
	}

	assets := make([]zip.Asset, 0, len(view.Results))
	for _, res := range view.Results {
		name := fmt.Sprintf("%02d", res.Index)
		if res.Variant != "" {
			name += "-" + res.Variant
		}
		var data []byte
		ct := res.ContentType
		if res.StorageKey != "" && a.Objects != nil {
			data, ct, err = a.Objects.Get(r.Context(), res.StorageKey)
			if err != nil {
				a.log().Error().Err(err).Str("key", res.StorageKey).Msg("archive read failed")
				a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
				return
			}
		} else if res.Text != "" {
			data = []byte(res.Text)
		}
		ext := path.Ext(res.StorageKey)
		if ext == "" {
			ext = storage.ExtensionFor(ct, data)
		}
		assets = append(assets, zip.Asset{Filename: name + ext, MIME: ct, Data: data, Modified: res.CreatedAt})
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		a.log().Error().Err(err).Str("request_id", view.Request.ID).Msg("archive build failed")
		a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=request-%s.zip", view.Request.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// requestID returns the canonical {id} route parameter. Request IDs are
// UUIDs; anything else cannot exist.
func requestID(r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func (a *App) lookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", localeMsg(r, "not_found"))
	case errors.Is(err, domain.ErrRequestInProgress):
		a.error(w, http.StatusConflict, "in_progress", localeMsg(r, "in_progress"))
	default:
		a.log().Error().Err(err).Str("path", r.URL.Path).Msg("request lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", localeMsg(r, "internal"))
	}
}
