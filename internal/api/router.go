// Package api is the HTTP ingestion gateway. It decodes requests, hands them
// to the application context and maps its errors to status codes. It holds no
// deduplication logic of its own.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/roach88/logagg/internal/app"
)

// Handlers serves the gateway endpoints for one App.
type Handlers struct {
	app          *app.App
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewHandlers creates handlers for a. A nil logger means slog.Default().
func NewHandlers(a *app.App, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		app:          a,
		logger:       logger,
		maxBodyBytes: a.Config().HTTP.MaxBodyBytes,
	}
}

// NewRouter wires every route:
//
//	GET  /              service info
//	GET  /health        liveness, 503 when the ledger is unreachable
//	POST /publish       submit a batch
//	GET  /events        processed events, optional ?topic=
//	GET  /stats         counters
//	GET  /dead-letters  events the consumer gave up on
//	GET  /metrics       Prometheus exposition, when metrics are enabled
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	publish := r.With()
	if limit := h.app.Config().HTTP.RateLimitPerMinute; limit > 0 {
		publish = r.With(httprate.Limit(limit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(h.rateLimited),
		))
	}
	publish.Post("/publish", h.Publish)

	r.Get("/events", h.Events)
	r.Get("/stats", h.Stats)
	r.Get("/dead-letters", h.DeadLetters)

	if m := h.app.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler())
	}
	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
