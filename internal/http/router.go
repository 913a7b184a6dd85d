package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campusgate/registrar/internal/observability"
	"github.com/campusgate/registrar/internal/ratelimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)
	if rl != nil {
		r.Use(RateLimitMiddleware(rl))
	}

	r.Get("/v1/events", h.ListEvents)
	r.Get("/v1/events/{eventID}", h.GetEvent)
	r.Post("/v1/events/{eventID}/registrations", h.Register)
	r.Delete("/v1/events/{eventID}/registrations", h.CancelRegistration)
	r.Get("/v1/events/{eventID}/analytics", h.EventAnalytics)
	r.Get("/v1/events/{eventID}/roster", h.EventRoster)
	r.Get("/v1/ops/incidents", h.OpsIncidents)
	r.Get("/v1/users/{userID}/registrations", h.UserRegistrations)
	r.Post("/v1/payments/orders", h.InitiatePayment)
	r.Post("/v1/payments/callback", h.PaymentCallback)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
