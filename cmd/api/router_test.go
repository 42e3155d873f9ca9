package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	importhandler "github.com/FACorreiaa/finance-importer/internal/domain/import/handler"
	"github.com/FACorreiaa/finance-importer/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/finance-importer/internal/domain/import/service"
	"github.com/FACorreiaa/finance-importer/pkg/config"
)

func newTestRouter(t *testing.T, registry *prometheus.Registry) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	svc := importservice.NewImportService(store, store, logger)
	if registry != nil {
		svc.WithMetrics(importservice.NewMetrics(registry))
	}
	cfg := config.ServerConfig{
		CORSOrigins:        []string{"https://app.example"},
		RateLimitPerSecond: 100,
		RateLimitBurst:     100,
	}
	return NewRouter(importhandler.NewImportHandler(svc, importhandler.Options{}, logger), registry, cfg, logger)
}

func TestRouter(t *testing.T) {
	h := newTestRouter(t, prometheus.NewRegistry())

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"configs", http.MethodGet, "/api/import/custom/configs", http.StatusOK},
		{"wrong method", http.MethodGet, "/api/import/preview", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/api/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	h := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/import/preview", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Less(t, rec.Code, 300)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
