package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all strategy lifecycle routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategies", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/clone", func(w http.ResponseWriter, r *http.Request) {
				h.HandleClone(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/block", func(w http.ResponseWriter, r *http.Request) {
				h.HandleBlock(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/archive", func(w http.ResponseWriter, r *http.Request) {
				h.HandleArchive(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/lineage", func(w http.ResponseWriter, r *http.Request) {
				h.HandleLineage(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/permission", func(w http.ResponseWriter, r *http.Request) {
				h.HandlePermission(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/positions", func(w http.ResponseWriter, r *http.Request) {
				h.HandleOpenPosition(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
				h.HandleOpenPositions(w, r, chi.URLParam(r, "id"))
			})
		})
	})

	r.Post("/positions/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		h.HandleClosePosition(w, r, chi.URLParam(r, "id"))
	})
}
