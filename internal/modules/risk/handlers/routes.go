package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all risk calculation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Post("/position-size", h.HandlePositionSize)
		r.Post("/pnl", h.HandlePnL)
		r.Post("/r-multiple", h.HandleRMultiple)
		r.Post("/validate-limits", h.HandleValidateLimits)

		r.Get("/tiers", h.HandleGetTiers)
		r.Get("/tiers/active", h.HandleTierForDrawdown)

		r.Get("/asset-classes", h.HandleAssetClassLimits)
		r.Get("/asset-classes/{class}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleAssetClassLimit(w, r, chi.URLParam(r, "class"))
		})
	})
}
