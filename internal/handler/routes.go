package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/ratelimit"
)

// RouterConfig carries what the router needs beyond the handlers.
type RouterConfig struct {
	Logger     logr.Logger
	Limiter    ratelimit.Limiter
	AdminToken string
	CronSecret string
	Metrics    http.Handler
}

// Routes builds the complete chi router.
func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(cfg.Logger))
	r.Use(CORS)

	r.Get("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Public reads
	r.Get("/categories", h.ListCategories)
	r.Get("/capacity", h.Capacity)
	r.Get("/admission", h.Admission)
	r.Get("/waitlist/{id}", h.GetWaitlistEntry)

	// Public writes are rate limited per client
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(cfg.Limiter))
		r.Post("/vendors", h.RegisterVendor)
		r.Post("/waitlist", h.JoinWaitlist)
		r.Post("/waitlist/{id}/cancel", h.CancelWaitlistEntry)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AdminToken))
		r.Get("/capacity", h.AdminCapacity)
		r.Get("/waitlist", h.ListWaitlist)
		r.Post("/waitlist/promote-next", h.PromoteNext)
		r.Post("/waitlist/{id}/promote", h.PromoteEntry)
		r.Post("/vendors/{id}/deactivate", h.DeactivateVendor)
		r.Post("/vendors/{id}/reactivate", h.ReactivateVendor)
		r.Post("/categories", h.CreateCategory)
	})

	r.With(BearerAuth(cfg.CronSecret)).Post("/internal/waitlist/sweep", h.SweepExpired)

	return r
}
