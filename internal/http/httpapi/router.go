package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gensvc/internal/http/handlers"
	"gensvc/internal/middleware"
)

// RouterOptions carries the optional collaborators of the router.
type RouterOptions struct {
	// CountryLookup resolves client countries for locale detection.
	CountryLookup middleware.CountryLookup
	// StaticDir serves locally stored objects under /static when set.
	StaticDir string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	cfg := app.Config
	logger := zerolog.New(io.Discard)
	if app.Logger != nil {
		logger = *app.Logger
	}

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.I18N("en", opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Handle("/metrics", promhttp.Handler())
	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Handle("/static/*", fs)
	}

	// one limiter shared by the versioned routes and their aliases
	auth := middleware.AuthJWT(cfg.JWTSecret)
	limit := middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)
	authed := func(r chi.Router) {
		r.Use(auth, limit)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			authed(r)
			r.Post("/generate", app.Generate)
			r.Get("/history", app.History)
			r.Get("/quota", app.Quota)
			r.Get("/requests/{id}", app.GetRequest)
			r.Get("/requests/{id}/archive", app.Archive)
			r.Delete("/requests/{id}", app.DeleteRequest)
		})
	})

	// unversioned aliases kept for older clients
	r.Group(func(r chi.Router) {
		authed(r)
		r.Post("/generate", app.Generate)
		r.Get("/history", app.History)
		r.Delete("/request/{id}", app.DeleteRequest)
	})

	return r
}
