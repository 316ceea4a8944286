package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/docintel/internal/api/handlers"
	"github.com/nikhilbhutani/docintel/internal/api/middleware"
	"github.com/nikhilbhutani/docintel/internal/auth"
	"github.com/nikhilbhutani/docintel/internal/config"
	"github.com/nikhilbhutani/docintel/internal/requestlog"
)

// Credential is what the router needs from the credential broker.
type Credential interface {
	handlers.TokenSource
	handlers.CredentialStatus
}

type Deps struct {
	Config     *config.Config
	Logger     *slog.Logger
	Credential Credential
	Extractor  handlers.Extractor
	OCR        handlers.EngineProbe
	RequestLog *requestlog.Store
}

type Router struct {
	mux  *chi.Mux
	deps Deps
	rl   *middleware.RateLimiter
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{
		mux:  chi.NewRouter(),
		deps: deps,
		rl:   middleware.NewRateLimiter(deps.Config.RateLimit.RPS, deps.Config.RateLimit.Burst),
	}
}

// Close releases background resources held by middleware.
func (rt *Router) Close() {
	rt.rl.Close()
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	cfg := rt.deps.Config

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.deps.Logger))
	if rt.deps.RequestLog != nil {
		r.Use(middleware.RequestLog(rt.deps.RequestLog, rt.deps.Logger))
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(rt.rl.Limit)

	health := handlers.NewHealthHandler(rt.deps.Credential, rt.deps.OCR)
	r.Get("/", health.Root)
	r.Head("/", health.Root)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Token issuing, shared secret required
	secret := auth.NewSecretMiddleware(cfg.Auth.APIKey, cfg.Auth.APIKeyHeader, cfg.Auth.JWTSecret)
	tokenH := handlers.NewTokenHandler(rt.deps.Credential, rt.deps.Logger)
	r.Group(func(r chi.Router) {
		r.Use(secret.Authenticate)
		r.Post("/access_token", tokenH.AccessToken)
		r.Post("/access-token", tokenH.AccessToken)
		r.Get("/get_access_token", tokenH.AccessToken)
	})

	// Extraction
	extractH := handlers.NewExtractionHandler(rt.deps.Extractor, cfg.Extraction.MaxUploadBytes)
	r.Post("/pdf-ocr", extractH.OCR)
	r.Post("/pdf-ocr-gpt", extractH.Dates)
	r.Post("/dob-dod", extractH.Dates)
	r.Post("/sign-date", extractH.SignDate)

	if cfg.Dashboard.Path != "" {
		r.Get("/dashboard", handlers.NewDashboardHandler(cfg.Dashboard.Path).Serve)
	}

	if rt.deps.RequestLog != nil {
		logsH := handlers.NewLogsHandler(rt.deps.RequestLog)
		r.Get("/logs", logsH.List)
	}

	return r
}
