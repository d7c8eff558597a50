package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kitbridge/kitbridge/internal/approvals"
	"github.com/kitbridge/kitbridge/internal/auth"
	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/observability"
	"github.com/kitbridge/kitbridge/internal/platform/httpx"
	"github.com/kitbridge/kitbridge/internal/view"
	"github.com/kitbridge/kitbridge/jobs"
	"github.com/kitbridge/kitbridge/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Gate             *gate.Gate
	Pages            *view.Pages
	AuthHandler      *auth.Handler
	ApprovalsHandler *approvals.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	// GlobalRateLimit caps requests per IP per minute; zero disables it.
	GlobalRateLimit int
	// HealthCheck reports dependency readiness for /healthz; nil means always ok.
	HealthCheck func(r *http.Request) error
}

// NewRouter constructs the chi.Router with KitBridge defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:          logger,
		Config:          params.Config,
		Metrics:         params.Metrics,
		GlobalRateLimit: params.GlobalRateLimit,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}
	// Every request is classified; only page prefixes in the rule table are gated.
	if params.Gate != nil {
		r.Use(params.Gate.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.HealthCheck != nil {
			if err := params.HealthCheck(r); err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler != nil {
			params.AuthHandler.MountRoutes(r)
		}
		if params.ApprovalsHandler != nil {
			r.Route("/admin/approvals", params.ApprovalsHandler.MountRoutes)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.Pages != nil {
		params.Pages.MountRoutes(r)
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
