// Package handlers provides HTTP handlers for portfolio state operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/quantfold/bulwark/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleCreate handles POST /api/portfolios
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string  `json:"name"`
		InitialBalance float64 `json:"initial_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.service.CreatePortfolio(req.Name, req.InitialBalance)
	if err != nil {
		h.writeError(w, err, "Failed to create portfolio")
		return
	}

	h.writeData(w, http.StatusCreated, p)
}

// HandleList handles GET /api/portfolios
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.service.ListPortfolios()
	if err != nil {
		h.writeError(w, err, "Failed to list portfolios")
		return
	}
	if portfolios == nil {
		portfolios = []domain.Portfolio{}
	}

	h.writeData(w, http.StatusOK, portfolios)
}

// HandleGet handles GET /api/portfolios/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, id string) {
	p, err := h.service.GetPortfolio(id)
	if err != nil {
		h.writeError(w, err, "Failed to get portfolio")
		return
	}
	if p == nil {
		http.Error(w, "Portfolio not found", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, p)
}

// HandleStatus handles GET /api/portfolios/{id}/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request, id string) {
	report, err := h.service.Status(id)
	if err != nil {
		h.writeError(w, err, "Failed to get portfolio status")
		return
	}

	h.writeData(w, http.StatusOK, report)
}

// HandleRecordBalance handles POST /api/portfolios/{id}/balance
func (h *Handler) HandleRecordBalance(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	p, err := h.service.RecordBalance(id, req.Balance)
	if err != nil {
		h.writeError(w, err, "Failed to record balance")
		return
	}

	h.writeData(w, http.StatusOK, p)
}

// HandleTripBreaker handles POST /api/portfolios/{id}/breakers
func (h *Handler) HandleTripBreaker(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
		Level       string     `json:"level"`
		Action      string     `json:"action"`
		TriggeredBy string     `json:"triggered_by"`
		Reason      string     `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	event, err := h.service.TripBreaker(id,
		domain.BreakerLevel(req.Level), domain.RiskAction(req.Action),
		req.TriggeredBy, req.Reason, req.ExpiresAt)
	if err != nil {
		h.writeError(w, err, "Failed to trip circuit breaker")
		return
	}

	h.writeData(w, http.StatusCreated, event)
}

// HandleBreakerHistory handles GET /api/portfolios/{id}/breakers
func (h *Handler) HandleBreakerHistory(w http.ResponseWriter, r *http.Request, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.service.BreakerHistory(id, limit)
	if err != nil {
		h.writeError(w, err, "Failed to get breaker history")
		return
	}
	if events == nil {
		events = []domain.CircuitBreakerEvent{}
	}

	h.writeData(w, http.StatusOK, events)
}

// HandleClearBreaker handles POST /api/breakers/{id}/clear
func (h *Handler) HandleClearBreaker(w http.ResponseWriter, r *http.Request, eventID string) {
	if err := h.service.ClearBreaker(eventID); err != nil {
		h.writeError(w, err, "Failed to clear circuit breaker")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"cleared": eventID})
}

// HandleSnapshots handles GET /api/portfolios/{id}/snapshots
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	snapshots, err := h.service.SnapshotHistory(id, limit)
	if err != nil {
		h.writeError(w, err, "Failed to get snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []portfolio.Snapshot{}
	}

	h.writeData(w, http.StatusOK, snapshots)
}

// HandleBalanceStats handles GET /api/portfolios/{id}/stats
func (h *Handler) HandleBalanceStats(w http.ResponseWriter, r *http.Request, id string) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	stats, err := h.service.BalanceHistoryStats(id, limit)
	if err != nil {
		h.writeError(w, err, "Failed to compute balance stats")
		return
	}
	if stats == nil {
		http.Error(w, "Not enough snapshot history", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, stats)
}

// writeError maps domain errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var validation *domain.ValidationError
	var precondition *domain.PreconditionError

	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &precondition):
		http.Error(w, precondition.Error(), http.StatusConflict)
	default:
		h.log.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

// writeData writes the standard JSON envelope
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
