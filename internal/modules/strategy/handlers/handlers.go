// Package handlers provides HTTP handlers for strategy lifecycle operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/quantfold/bulwark/internal/modules/strategy"
	"github.com/rs/zerolog"
)

// Handler handles strategy HTTP requests
type Handler struct {
	service *strategy.Service
	log     zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(service *strategy.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "strategy").Logger(),
	}
}

// HandleCreate handles POST /api/strategies
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input strategy.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	strat, err := h.service.Create(input)
	if err != nil {
		h.writeError(w, err, "Failed to create strategy")
		return
	}

	h.writeData(w, http.StatusCreated, strat)
}

// HandleList handles GET /api/strategies
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.service.List()
	if err != nil {
		h.writeError(w, err, "Failed to list strategies")
		return
	}
	if strategies == nil {
		strategies = []domain.Strategy{}
	}

	h.writeData(w, http.StatusOK, strategies)
}

// HandleGet handles GET /api/strategies/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, id string) {
	strat, err := h.service.Get(id)
	if err != nil {
		h.writeError(w, err, "Failed to get strategy")
		return
	}
	if strat == nil {
		http.Error(w, "Strategy not found", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, strat)
}

// HandleClone handles POST /api/strategies/{id}/clone
func (h *Handler) HandleClone(w http.ResponseWriter, r *http.Request, id string) {
	var updates strategy.CloneUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Clone(id, updates)
	if err != nil {
		h.writeError(w, err, "Failed to clone strategy")
		return
	}

	h.writeData(w, http.StatusCreated, result)
}

// HandleBlock handles POST /api/strategies/{id}/block
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	strat, err := h.service.Block(id, req.Reason)
	if err != nil {
		h.writeError(w, err, "Failed to block strategy")
		return
	}

	h.writeData(w, http.StatusOK, strat)
}

// HandleArchive handles POST /api/strategies/{id}/archive
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request, id string) {
	strat, err := h.service.Archive(id)
	if err != nil {
		h.writeError(w, err, "Failed to archive strategy")
		return
	}

	h.writeData(w, http.StatusOK, strat)
}

// HandleLineage handles GET /api/strategies/{id}/lineage
func (h *Handler) HandleLineage(w http.ResponseWriter, r *http.Request, id string) {
	lineage, err := h.service.Lineage(id)
	if err != nil {
		h.writeError(w, err, "Failed to get strategy lineage")
		return
	}

	h.writeData(w, http.StatusOK, lineage)
}

// HandlePermission handles GET /api/strategies/{id}/permission
func (h *Handler) HandlePermission(w http.ResponseWriter, r *http.Request, id string) {
	permission, err := h.service.CanOpenPositions(id)
	if err != nil {
		h.writeError(w, err, "Failed to evaluate trade permission")
		return
	}

	h.writeData(w, http.StatusOK, permission)
}

// HandleOpenPosition handles POST /api/strategies/{id}/positions
func (h *Handler) HandleOpenPosition(w http.ResponseWriter, r *http.Request, id string) {
	var input strategy.OpenPositionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	input.StrategyID = id

	position, err := h.service.OpenPosition(input)
	if err != nil {
		h.writeError(w, err, "Failed to open position")
		return
	}

	h.writeData(w, http.StatusCreated, position)
}

// HandleOpenPositions handles GET /api/strategies/{id}/positions
func (h *Handler) HandleOpenPositions(w http.ResponseWriter, r *http.Request, id string) {
	positions, err := h.service.OpenPositions(id)
	if err != nil {
		h.writeError(w, err, "Failed to list open positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	h.writeData(w, http.StatusOK, positions)
}

// HandleClosePosition handles POST /api/positions/{id}/close
func (h *Handler) HandleClosePosition(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		ExitPrice  float64 `json:"exit_price"`
		Commission float64 `json:"commission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	position, err := h.service.ClosePosition(id, req.ExitPrice, req.Commission)
	if err != nil {
		h.writeError(w, err, "Failed to close position")
		return
	}

	h.writeData(w, http.StatusOK, position)
}

// writeError maps domain errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var validation *domain.ValidationError
	var precondition *domain.PreconditionError
	var violation *domain.InvariantViolation

	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &precondition):
		http.Error(w, precondition.Error(), http.StatusConflict)
	case errors.As(err, &violation):
		h.log.Error().Err(err).Msg("Invariant violation")
		http.Error(w, violation.Error(), http.StatusInternalServerError)
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
