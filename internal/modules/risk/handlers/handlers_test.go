package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/bulwark/internal/domain"
)

func testHandler() *Handler {
	quarter := 0.25
	half := 0.5
	actions := domain.DrawdownActions{
		Tiers: []domain.DrawdownTier{
			{Threshold: -20, Action: domain.ActionLocked},
			{Threshold: -15, Action: domain.ActionDefensive, PositionSizeMultiplier: &quarter},
			{Threshold: -10, Action: domain.ActionReduce, PositionSizeMultiplier: &half},
			{Threshold: -5, Action: domain.ActionWarning},
		},
	}
	limits := map[domain.AssetClass]domain.AssetClassLimit{
		domain.AssetCrypto: {AssetClass: domain.AssetCrypto, MaxDrawdownPercent: -10},
	}
	return NewHandler(actions, limits, zerolog.Nop())
}

func postJSON(t *testing.T, handler http.HandlerFunc, body map[string]interface{}) *httptest.ResponseRecorder {
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encoded))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var response struct {
		Data     map[string]interface{} `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Contains(t, response.Metadata, "timestamp")
	return response.Data
}

func TestHandlePositionSize(t *testing.T) {
	h := testHandler()

	rec := postJSON(t, h.HandlePositionSize, map[string]interface{}{
		"entry_price":     100.0,
		"stop_loss":       95.0,
		"risk_amount":     500.0,
		"account_balance": 10000.0,
		"target_price":    110.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, 100.0, data["quantity"])
	assert.Equal(t, 10000.0, data["position_size_usd"])
	assert.Equal(t, 5.0, data["risk_percent"])
	assert.Equal(t, 2.0, data["risk_reward_ratio"])
}

func TestHandlePositionSize_ValidationError(t *testing.T) {
	h := testHandler()

	rec := postJSON(t, h.HandlePositionSize, map[string]interface{}{
		"entry_price":     100.0,
		"stop_loss":       100.0, // equal to entry
		"risk_amount":     500.0,
		"account_balance": 10000.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "stop_loss")
}

func TestHandlePnL_Short(t *testing.T) {
	h := testHandler()

	rec := postJSON(t, h.HandlePnL, map[string]interface{}{
		"entry_price": 100.0,
		"exit_price":  90.0,
		"quantity":    2.0,
		"direction":   "short",
		"commission":  1.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, 19.0, data["pnl_amount"])
}

func TestHandleValidateLimits_ReportsAllViolations(t *testing.T) {
	h := testHandler()

	rec := postJSON(t, h.HandleValidateLimits, map[string]interface{}{
		"risk_percent":       3.0,
		"daily_risk_used":    4.0,
		"weekly_risk_used":   9.0,
		"max_risk_per_trade": 2.0,
		"max_daily_risk":     6.0,
		"max_weekly_risk":    10.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, false, data["is_valid"])
	violations, ok := data["violations"].([]interface{})
	require.True(t, ok)
	assert.Len(t, violations, 3)
}

func TestHandleTierForDrawdown(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/?drawdown=-12", nil)
	rec := httptest.NewRecorder()
	h.HandleTierForDrawdown(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, -12.0, data["drawdown"])
	assert.Equal(t, 0.5, data["size_multiplier"])

	tier, ok := data["tier"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "reduce", tier["action"])
}
