// Package handlers provides HTTP handlers for risk calculations:
// position sizing, P&L, risk limit validation, and the tier configuration.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/quantfold/bulwark/internal/domain"
	"github.com/quantfold/bulwark/internal/modules/arithmetic"
	"github.com/quantfold/bulwark/internal/modules/risk"
	"github.com/rs/zerolog"
)

// Handler handles risk calculation HTTP requests
type Handler struct {
	actions domain.DrawdownActions
	limits  map[domain.AssetClass]domain.AssetClassLimit
	log     zerolog.Logger
}

// NewHandler creates a new risk calculation handler
func NewHandler(
	actions domain.DrawdownActions,
	limits map[domain.AssetClass]domain.AssetClassLimit,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		actions: actions,
		limits:  limits,
		log:     log.With().Str("handler", "risk").Logger(),
	}
}

// HandlePositionSize handles POST /api/risk/position-size
func (h *Handler) HandlePositionSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetPrice    *float64 `json:"target_price,omitempty"`
		EntryPrice     float64  `json:"entry_price"`
		StopLoss       float64  `json:"stop_loss"`
		RiskAmount     float64  `json:"risk_amount"`
		AccountBalance float64  `json:"account_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	size, err := arithmetic.CalculatePositionSize(
		req.EntryPrice, req.StopLoss, req.RiskAmount, req.AccountBalance, req.TargetPrice)
	if err != nil {
		h.writeError(w, err, "Failed to calculate position size")
		return
	}

	h.writeData(w, http.StatusOK, size)
}

// HandlePnL handles POST /api/risk/pnl
func (h *Handler) HandlePnL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction  string  `json:"direction"`
		EntryPrice float64 `json:"entry_price"`
		ExitPrice  float64 `json:"exit_price"`
		Quantity   float64 `json:"quantity"`
		Commission float64 `json:"commission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pnl, err := arithmetic.CalculatePnL(
		req.EntryPrice, req.ExitPrice, req.Quantity, domain.Direction(req.Direction), req.Commission)
	if err != nil {
		h.writeError(w, err, "Failed to calculate PnL")
		return
	}

	h.writeData(w, http.StatusOK, pnl)
}

// HandleRMultiple handles POST /api/risk/r-multiple
func (h *Handler) HandleRMultiple(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PnlAmount   float64 `json:"pnl_amount"`
		InitialRisk float64 `json:"initial_risk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rMultiple, err := arithmetic.CalculateRMultiple(req.PnlAmount, req.InitialRisk)
	if err != nil {
		h.writeError(w, err, "Failed to calculate R multiple")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{"r_multiple": rMultiple})
}

// HandleValidateLimits handles POST /api/risk/validate-limits
func (h *Handler) HandleValidateLimits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RiskPercent     float64 `json:"risk_percent"`
		DailyRiskUsed   float64 `json:"daily_risk_used"`
		WeeklyRiskUsed  float64 `json:"weekly_risk_used"`
		MaxRiskPerTrade float64 `json:"max_risk_per_trade"`
		MaxDailyRisk    float64 `json:"max_daily_risk"`
		MaxWeeklyRisk   float64 `json:"max_weekly_risk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := arithmetic.ValidateRiskLimits(
		req.RiskPercent, req.DailyRiskUsed, req.WeeklyRiskUsed,
		req.MaxRiskPerTrade, req.MaxDailyRisk, req.MaxWeeklyRisk)
	if result.Violations == nil {
		result.Violations = []string{}
	}

	h.writeData(w, http.StatusOK, result)
}

// HandleGetTiers handles GET /api/risk/tiers
func (h *Handler) HandleGetTiers(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.actions)
}

// HandleTierForDrawdown handles GET /api/risk/tiers/active?drawdown=-12.5
func (h *Handler) HandleTierForDrawdown(w http.ResponseWriter, r *http.Request) {
	var drawdown float64
	if raw := r.URL.Query().Get("drawdown"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &drawdown); err != nil {
			http.Error(w, "Invalid drawdown parameter", http.StatusBadRequest)
			return
		}
	}

	tier := risk.ActionForDrawdown(drawdown, h.actions)

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"drawdown":        drawdown,
		"tier":            tier,
		"size_multiplier": risk.PositionSizeAdjustment(1.0, drawdown, h.actions),
	})
}

// HandleAssetClassLimits handles GET /api/risk/asset-classes
func (h *Handler) HandleAssetClassLimits(w http.ResponseWriter, r *http.Request) {
	h.writeData(w, http.StatusOK, h.limits)
}

// HandleAssetClassLimit handles GET /api/risk/asset-classes/{class}
func (h *Handler) HandleAssetClassLimit(w http.ResponseWriter, r *http.Request, class string) {
	limit := risk.LimitForAssetClass(domain.AssetClass(class), h.limits)
	if limit == nil {
		http.Error(w, "Unknown asset class", http.StatusNotFound)
		return
	}

	h.writeData(w, http.StatusOK, limit)
}

// writeError maps domain errors to HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		http.Error(w, validation.Error(), http.StatusBadRequest)
		return
	}

	h.log.Error().Err(err).Msg(fallback)
	http.Error(w, fallback, http.StatusInternalServerError)
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
