package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/metrics"
	"github.com/brightloom/notifyd/internal/ratelimit"
)

// NewRouter assembles the chi router and middleware chain described in
// SPEC_FULL §11.1.
func NewRouter(h *Handler, limiter *ratelimit.Limiter, logger *zap.Logger, outboundTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(outboundTimeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(limiter, logger))

			r.Post("/send", h.Send)
			r.Get("/status/{id}", h.Status)
			r.Post("/retry/{id}", h.Retry)
		})
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
