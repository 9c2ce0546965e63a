package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
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

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var resp HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRespondDetailsByEnvironment(t *testing.T) {
	upstreamDown := func() *errors.ErrorEnvelope {
		return WrapExternalService(context.Background(), stderrors.New("dial tcp 10.0.0.7:443: connect: connection refused"), "swap API unreachable").
			WithDetails(map[string]interface{}{"chainId": 1})
	}
	rateLimited := func() *errors.ErrorEnvelope {
		return NewRateLimitedError("too many requests").
			WithDetails(map[string]interface{}{"retryAfter": 60})
	}

	tests := []struct {
		name        string
		env         string
		envelope    func() *errors.ErrorEnvelope
		status      int
		wantDetails []string
	}{
		{"development server error keeps cause", "development", upstreamDown, http.StatusBadGateway, []string{"chainId", "wrapped_error"}},
		{"production server error has no details", "production", upstreamDown, http.StatusBadGateway, nil},
		{"production client error keeps details", "production", rateLimited, http.StatusTooManyRequests, []string{"retryAfter"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetEnvironment(tt.env)
			t.Cleanup(func() { SetEnvironment("development") })

			rec := httptest.NewRecorder()
			RespondWithEnvelopeStatus(rec, httptest.NewRequest(http.MethodGet, "/price", nil), tt.envelope(), tt.status)
			require.Equal(t, tt.status, rec.Code)

			if tt.wantDetails == nil {
				assert.NotContains(t, rec.Body.String(), `"details"`)
				assert.NotContains(t, rec.Body.String(), "10.0.0.7")
			}

			resp := decodeResponse(t, rec)
			assert.NotEmpty(t, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
			assert.NotEmpty(t, resp.Error.RequestID)
			if tt.wantDetails == nil {
				assert.Nil(t, resp.Error.Details)
				return
			}
			for _, key := range tt.wantDetails {
				assert.Contains(t, resp.Error.Details, key)
			}
		})
	}
}

func TestErrorMetricsLabelRoutePattern(t *testing.T) {
	collector := setupTelemetry(t)

	r := chi.NewRouter()
	r.Get("/tokens/{chainId}/{token}", func(w http.ResponseWriter, req *http.Request) {
		RespondWithEnvelope(w, req, NewNotFoundError("unknown token"))
	})

	for _, path := range []string{"/tokens/1/PEPE", "/tokens/137/0xdeadbeef"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	recorded := collector.GetMetricsByName("errors_by_endpoint")
	require.Len(t, recorded, 2)
	for _, metric := range recorded {
		assert.Equal(t, "/tokens/{chainId}/{token}", metric.Tags["endpoint"])
		assert.Equal(t, CodeNotFound, metric.Tags["error_code"])
	}
}

func TestErrorMetricsOutsideRouterUseBoundedLabel(t *testing.T) {
	collector := setupTelemetry(t)

	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, httptest.NewRequest(http.MethodGet, "/swap/permit2/anything-goes", nil), NewInternalError("boom"))

	recorded := collector.GetMetricsByName("errors_by_endpoint")
	require.Len(t, recorded, 1)
	assert.Equal(t, "/unknown", recorded[0].Tags["endpoint"])
}
