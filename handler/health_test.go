package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type gatewayNames []string

func (g gatewayNames) Names() []string { return g }

func TestNewHealthHandler(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil, nil, "test", "1.0.0")
	require.NotNil(t, h)
	assert.False(t, h.startTime.IsZero())
}

func TestHealthHandler_CheckHealth(t *testing.T) {
	disabledSearch, err := opensearch.NewClient(config.OpenSearchConfig{Enabled: false, URL: "http://localhost:9200"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		store   Pinger
		status  int
		overall string
	}{
		{
			name:    "store reachable",
			store:   pingFunc(func(context.Context) error { return nil }),
			status:  http.StatusOK,
			overall: statusHealthy,
		},
		{
			name:    "store down",
			store:   pingFunc(func(context.Context) error { return errors.New("database is locked") }),
			status:  http.StatusServiceUnavailable,
			overall: statusUnhealthy,
		},
		{
			name:    "no store",
			status:  http.StatusServiceUnavailable,
			overall: statusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, nil, disabledSearch, gatewayNames{"cod", "kashier"}, "test", "1.0.0")

			w := httptest.NewRecorder()
			h.CheckHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			resp := decodeResponse(t, w)
			data := resp.Data.(map[string]any)
			assert.Equal(t, tt.overall, data["status"])
			assert.Equal(t, []any{"cod", "kashier"}, data["gateways"])

			services := data["services"].(map[string]any)
			assert.Equal(t, statusNotConfigured, services["redis"].(map[string]any)["status"])
			assert.Equal(t, statusNotConfigured, services["opensearch"].(map[string]any)["status"])
		})
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	healthy := &ServiceHealth{Status: statusHealthy, Healthy: true}
	tests := []struct {
		name     string
		services map[string]*ServiceHealth
		want     string
	}{
		{"all healthy", map[string]*ServiceHealth{"a": healthy, "b": {Status: statusNotConfigured}}, statusHealthy},
		{"optional down", map[string]*ServiceHealth{"a": healthy, "redis": {Status: statusUnhealthy}}, statusDegraded},
		{"critical down", map[string]*ServiceHealth{"store": {Status: statusUnhealthy, Critical: true}, "redis": {Status: statusUnhealthy}}, statusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.services))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
}
