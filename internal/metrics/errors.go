package metrics

import (
	"strconv"

	"github.com/swapgate/swapgate/internal/observability"
)

// Error series written by the envelope writer and the recovery middleware.
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(errorCode string, httpStatus int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(ErrorsTotalName, 1, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a handler panic turned into a 500.
func RecordPanic() {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(PanicsTotalName, 1, nil)
}

// RecordErrorByEndpoint counts an error by route pattern. Callers pass the chi pattern, never the
// raw path, so token symbols and addresses stay out of label values.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	if observability.TelemetrySystem == nil {
		return
	}
	if endpoint == "" {
		endpoint = "/unknown"
	}
	_ = observability.TelemetrySystem.Counter(ErrorsByEndpointName, 1, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}
