package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/var", h.HandleVaR)
		r.Post("/stress-test", h.HandleStressTest)
		r.Post("/stress-test/all", h.HandleStressTestAll)
		r.Get("/metrics/{portfolioId}", h.HandleGetPortfolioMetrics)
		r.Get("/scenarios", h.HandleGetScenarios)
	})
}
