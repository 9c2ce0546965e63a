package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapgate/swapgate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func statusHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestRequestMetricsEmitsCoreSeries(t *testing.T) {
	collector := setupTelemetry(t)

	req := httptest.NewRequest(http.MethodGet, "/price", nil)
	req.Header.Set("Content-Length", "0")
	rec := httptest.NewRecorder()
	RequestMetrics(statusHandler(http.StatusOK, `{"buyAmount":"1"}`)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"buyAmount":"1"}`, rec.Body.String())
	for _, name := range []string{
		"http_requests_total",
		"http_request_duration_ms",
		"http_request_size_bytes",
		"http_response_size_bytes",
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
	assert.Equal(t, 0, collector.CountMetricsByName("http_errors_total"))
}

func TestRequestMetricsCountsErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusBadGateway} {
		collector := setupTelemetry(t)

		rec := httptest.NewRecorder()
		RequestMetrics(statusHandler(status, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quote", nil))

		assert.Greater(t, collector.CountMetricsByName("http_errors_total"), 0, "status %d", status)
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	rec := httptest.NewRecorder()
	RequestMetrics(statusHandler(http.StatusOK, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "", classifyStatus(http.StatusOK))
	assert.Equal(t, "client_error", classifyStatus(http.StatusBadRequest))
	assert.Equal(t, "rate_limited", classifyStatus(http.StatusTooManyRequests))
	assert.Equal(t, "server_error", classifyStatus(http.StatusGatewayTimeout))
}

func TestEndpointPatternFallbacks(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/price", "/price"},
		{"/quote", "/quote"},
		{"/tokens/1/USDC", "/tokens/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/swap/permit2/price", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, EndpointPattern(httptest.NewRequest(http.MethodGet, tt.path, nil)))
		})
	}
}

func TestEndpointPatternUsesRoutePattern(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			seen = EndpointPattern(req)
		})
	})
	r.Get("/tokens/{chainId}/{token}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tokens/1/USDC", nil))
	assert.Equal(t, "/tokens/{chainId}/{token}", seen)
}

func TestRequestIDPropagation(t *testing.T) {
	var fromContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/price", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", fromContext)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDReplacesUnsafeHeader(t *testing.T) {
	var fromContext string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetRequestID(r.Context())
	}))

	for _, supplied := range []string{
		"abc\r\nX-Injected: 1",
		"has space",
		strings.Repeat("a", 129),
	} {
		req := httptest.NewRequest(http.MethodGet, "/price", nil)
		req.Header.Set(RequestIDHeader, supplied)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		echoed := rec.Header().Get(RequestIDHeader)
		assert.NotEqual(t, supplied, echoed)
		assert.Len(t, echoed, 36, "uuid expected for %q", supplied)
		assert.Equal(t, echoed, fromContext)
	}

	req := httptest.NewRequest(http.MethodGet, "/price", nil)
	req.Header.Set(RequestIDHeader, "trace:2024-01.a_b")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace:2024-01.a_b", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDKeepsChiID(t *testing.T) {
	var fromContext string
	handler := chimiddleware.RequestID(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetRequestID(r.Context())
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price", nil))

	assert.NotEmpty(t, fromContext)
	assert.Equal(t, fromContext, rec.Header().Get(RequestIDHeader))
	assert.Empty(t, GetRequestID(context.Background()))
}
