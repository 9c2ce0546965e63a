package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/metrics"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function such as a store Ping to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
	started  bool
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// MarkStarted flips the startup probe to healthy once the proxy is wired.
func (hm *HealthManager) MarkStarted() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.started = true
}

// runHealthChecks executes all registered health checks
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	hm.mu.RUnlock()

	checks := make(map[string]string, len(names))
	for i, name := range names {
		if ctx.Err() != nil {
			checks[name] = "timeout"
			continue
		}
		started := time.Now()
		err := checkers[i].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(started))
		if err != nil {
			checks[name] = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}
	return checks
}

// determineOverallStatus determines overall health status
func determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := determineOverallStatus(checks)
	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, "aggregate health check failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, "", status, checks))
		return
	}

	writeJSON(w, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no dependency checks
// so a failing store does not get the process restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ProbeResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether dependencies can serve traffic.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	started := hm.started
	hm.mu.RUnlock()

	if !started {
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, "startup not complete")
		respondWithError(w, r, enrichHealthEnvelope(envelope, "startup", "starting", nil))
		return
	}
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration) {
	checkCtx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runHealthChecks(checkCtx)
	status := determineOverallStatus(checks)
	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, name+" probe failed")
		respondWithError(w, r, enrichHealthEnvelope(envelope, name, status, checks))
		return
	}

	writeJSON(w, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"unhealthy_checks": unhealthy,
		})
	}
	return envelope
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) *HealthManager {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withGlobalManager(probe string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := GetHealthManager(); hm != nil {
			serve(hm, w, r)
			return
		}
		envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, "health manager not initialized")
		respondWithError(w, r, enrichHealthEnvelope(envelope, probe, "unknown", nil))
	}
}

// Handlers backed by the global manager.
var (
	HealthHandler    = withGlobalManager("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager("startup", (*HealthManager).StartupHandler)
)
