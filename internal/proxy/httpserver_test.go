package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/gateway/internal/envresolver"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/upstream"
)

func TestHealthzOkWithNoServersConfigured(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	mgr := upstream.New(reg, envresolver.New(nil, nil), oauthcoord.New(nil), nil, "", nil, nil)

	h := NewHTTPHandler(mgr, NewMetrics())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	mgr := upstream.New(reg, envresolver.New(nil, nil), oauthcoord.New(nil), nil, "", nil, nil)

	h := NewHTTPHandler(mgr, NewMetrics())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcpmux_")
}
