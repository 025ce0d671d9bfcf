package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/domain/jsoncfg"
	"gensvc/internal/generation"
	"gensvc/internal/infra"
	"gensvc/internal/middleware"
)

// Pipeline is the request surface of the orchestrator.
type Pipeline interface {
	Submit(ctx context.Context, userID string, spec jsoncfg.ChannelSpec, opts ...generation.SubmitOption) (*generation.Handle, error)
	History(ctx context.Context, userID string, page, size int) (*generation.HistoryPage, error)
	Get(ctx context.Context, userID, id string) (*generation.RequestView, error)
	Delete(ctx context.Context, userID, id string) error
}

// QuotaReader reports a user's quota account.
type QuotaReader interface {
	Status(ctx context.Context, userID string) (*domain.QuotaAccount, error)
}

// ObjectReader reads stored results back for archives.
type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Pinger checks a dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config   *infra.Config
	Logger   *zerolog.Logger
	Pipeline Pipeline
	Quotas   QuotaReader
	Objects  ObjectReader
	DB       Pinger
}

func (a *App) log() *zerolog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	l := zerolog.New(io.Discard)
	return &l
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// error writes the standard failure envelope. message is shown to users.
func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"success": false, "message": message, "error": kind})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
