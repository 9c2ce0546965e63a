package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/observability"
)

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// EndpointPattern returns the chi route pattern so token symbols and chain ids
// never become label values.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if routePattern := rctx.RoutePattern(); routePattern != "" {
			return routePattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/price", path == "/quote", path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/tokens/"):
		return "/tokens/*"
	default:
		return "/unknown"
	}
}

// RequestMetrics records request count, latency and payload sizes per route pattern.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry := observability.TelemetrySystem
		if telemetry == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		var requestSize int64
		if size, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil {
			requestSize = size
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		status := strconv.Itoa(wrapped.statusCode)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		_ = telemetry.Counter("http_requests_total", 1, labels)
		_ = telemetry.Histogram("http_request_duration_ms", duration, labels)
		_ = telemetry.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = telemetry.Gauge("http_response_size_bytes", float64(wrapped.bytesWritten), sizeLabels)

		if errorType := classifyStatus(wrapped.statusCode); errorType != "" {
			_ = telemetry.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Debug("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", wrapped.bytesWritten),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return ""
	}
}
