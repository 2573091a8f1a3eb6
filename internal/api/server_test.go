package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouter_ServesPrometheusMetrics(t *testing.T) {
	_, _, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
}

func TestRouter_SetsCORSHeadersOnPreflight(t *testing.T) {
	_, _, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/live/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
