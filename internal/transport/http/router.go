package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"leadgate/internal/csrf"
	"leadgate/internal/platform/health"
	rlmiddleware "leadgate/internal/ratelimit/middleware"
	dErrors "leadgate/pkg/domain-errors"
	"leadgate/pkg/platform/httputil"
	"leadgate/pkg/platform/middleware/metadata"
	"leadgate/pkg/platform/middleware/request"
	"leadgate/pkg/platform/middleware/requesttime"
	"leadgate/pkg/platform/validation"
)

// RouterConfig carries the collaborators NewRouter mounts besides the handler.
type RouterConfig struct {
	Logger         *slog.Logger
	Metadata       *metadata.Middleware
	RateLimits     *rlmiddleware.Middleware
	Health         *health.Handler
	Metrics        http.Handler
	RequestMetrics *request.Metrics
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Metadata == nil {
		cfg.Metadata = metadata.NewMiddleware(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.WithClock(cfg.Clock))
	r.Use(cfg.Metadata.Handler)
	r.Use(request.Logger(logger))
	r.Use(request.Instrument(cfg.RequestMetrics, routePattern))
	r.Use(request.BodyLimit(validation.MaxBodySize))
	r.Use(request.Timeout(cfg.RequestTimeout))

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrf.HeaderName, "X-Request-ID"},
			ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(h.LoadSession)
		h.Register(r)
	})
	if cfg.RateLimits != nil {
		h.RegisterWebhooks(r, cfg.RateLimits)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "endpoint not found"))
	})
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
