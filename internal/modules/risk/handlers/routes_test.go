package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRoutes(t *testing.T) {
	h := testHandler()
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/risk/tiers", http.StatusOK},
		{http.MethodGet, "/risk/tiers/active?drawdown=-6", http.StatusOK},
		{http.MethodGet, "/risk/asset-classes", http.StatusOK},
		{http.MethodGet, "/risk/asset-classes/crypto", http.StatusOK},
		{http.MethodGet, "/risk/asset-classes/forex", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRegisterRoutes_PostBadBody(t *testing.T) {
	h := testHandler()
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	for _, path := range []string{"/risk/position-size", "/risk/pnl", "/risk/validate-limits"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}
