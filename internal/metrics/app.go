package metrics

import (
	"strconv"
	"time"

	"github.com/swapgate/swapgate/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Proxy metrics
	ProxyRequestsTotal    = "swap_proxy_requests_total"
	UpstreamDuration      = "swap_upstream_duration_ms"
	UpstreamFallbackTotal = "swap_upstream_chain_fallback_total"
	RateLimitDeniedTotal  = "swap_rate_limit_denied_total"
	CacheLookupsTotal     = "swap_cache_lookups_total"

	// Orchestrator metrics
	SwapPhaseTransitions = "swap_phase_transitions_total"
	SwapRetriesTotal     = "swap_retries_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordProxyRequest counts a proxied request by endpoint and final status.
func RecordProxyRequest(endpoint string, status int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ProxyRequestsTotal,
			1,
			map[string]string{
				"endpoint": endpoint,
				"status":   strconv.Itoa(status),
			},
		)
	}
}

// RecordUpstreamCall records latency of one aggregator call.
func RecordUpstreamCall(endpoint string, chainID int64, status int, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			UpstreamDuration,
			duration,
			map[string]string{
				"endpoint": endpoint,
				"chain_id": strconv.FormatInt(chainID, 10),
				"status":   strconv.Itoa(status),
			},
		)
	}
}

// RecordChainFallback counts requests for chains without a configured upstream.
func RecordChainFallback(chainID int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamFallbackTotal,
			1,
			map[string]string{
				"chain_id": strconv.FormatInt(chainID, 10),
			},
		)
	}
}

// RecordRateLimitDenied counts requests rejected by a limiter policy.
func RecordRateLimitDenied(policy string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDeniedTotal,
			1,
			map[string]string{
				"policy": policy,
			},
		)
	}
}

// RecordCacheLookup counts response cache hits and misses.
func RecordCacheLookup(endpoint string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"endpoint": endpoint,
				"result":   result,
			},
		)
	}
}

// RecordSwapPhase counts orchestrator phase transitions.
func RecordSwapPhase(phase string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SwapPhaseTransitions,
			1,
			map[string]string{
				"phase": phase,
			},
		)
	}
}

// RecordSwapRetry counts retried orchestrator operations.
func RecordSwapRetry(operation string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SwapRetriesTotal,
			1,
			map[string]string{
				"operation": operation,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
