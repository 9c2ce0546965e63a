package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/server/handlers"
)

const (
	adminRateLimit = 10
	adminRateBurst = 5
)

func (s *Server) registerRoutes(routes Routes) {
	if routes.Price != nil {
		s.router.Method("GET", "/price", routes.Price)
	}
	if routes.Quote != nil {
		s.router.Method("GET", "/quote", routes.Quote)
	}
	if routes.Tokens != nil {
		s.router.Get("/tokens/{chainId}", routes.Tokens.List)
		s.router.Get("/tokens/{chainId}/{token}", routes.Tokens.Get)
	}

	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	s.registerAdminEndpoint(routes.AdminToken)
}

// registerAdminEndpoint exposes POST /admin/signal for reload and shutdown when a token is configured.
func (s *Server) registerAdminEndpoint(adminToken string) {
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (server.admin_token not set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: adminRateLimit,
		RateBurst: adminRateBurst,
		Manager:   nil,
	})
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.Int("rate_limit_per_min", adminRateLimit),
			zap.Int("rate_burst", adminRateBurst))
	}
}
