package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolios", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
				h.HandleStatus(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/balance", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRecordBalance(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/breakers", func(w http.ResponseWriter, r *http.Request) {
				h.HandleTripBreaker(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
				h.HandleBreakerHistory(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/snapshots", func(w http.ResponseWriter, r *http.Request) {
				h.HandleSnapshots(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				h.HandleBalanceStats(w, r, chi.URLParam(r, "id"))
			})
		})
	})

	r.Post("/breakers/{id}/clear", func(w http.ResponseWriter, r *http.Request) {
		h.HandleClearBreaker(w, r, chi.URLParam(r, "id"))
	})
}
