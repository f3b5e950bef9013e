package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vidgen/internal/http/handlers"
	"vidgen/internal/middleware"
)

type Options struct {
	Logger          zerolog.Logger
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
	CORSOrigins     []string
	// JWTSecret enables bearer token verification on the video routes.
	JWTSecret string
	JWTIssuer string
	// Verifiers accept tokens from other issuers, tried after JWTSecret.
	Verifiers []middleware.TokenVerifier
	// StaticDir, when set, is served under /static (local file storage).
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		var verifiers []middleware.TokenVerifier
		if opts.JWTSecret != "" {
			verifiers = append(verifiers, middleware.HMACVerifier{Secret: opts.JWTSecret, Issuer: opts.JWTIssuer})
		}
		verifiers = append(verifiers, opts.Verifiers...)
		if len(verifiers) > 0 {
			r.Use(middleware.AuthBearer(verifiers...))
		}
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/v1/videos", app.CreateVideo)
		r.Get("/v1/videos/queue", app.QueueStatus)
		r.Get("/v1/videos/{id}", app.GetVideo)
		r.Get("/v1/users/{userId}/videos", app.ListUserVideos)
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}
	return r
}

// NewOpsRouter serves the worker's health and stats endpoints.
func NewOpsRouter(ops *handlers.Ops, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger(logger), chimw.Recoverer)
	r.Get("/healthz", ops.Health)
	r.Get("/v1/worker/stats", ops.WorkerStats)
	return r
}
