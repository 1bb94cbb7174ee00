package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/app"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/audit"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/handlers"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/middleware"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/sessions"
)

// NewRouter builds the Gin engine, wires middleware and registers the session,
// override and audit routes.
func NewRouter(cfg *app.Config, sessionManager *sessions.Manager, engine *overrides.Engine, audits *audit.Service) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if sessionManager == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if engine == nil {
		return nil, fmt.Errorf("override engine must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	api := r.Group("/api")

	// Sessions
	sessionHandler, err := handlers.NewSessionHandler(sessionManager)
	if err != nil {
		return nil, err
	}
	sess := api.Group("/sessions")
	{
		sess.POST("", sessionHandler.Create)
		sess.GET("/stats", sessionHandler.Stats)
		sess.POST("/cleanup", sessionHandler.Cleanup)
		sess.GET("/:id", sessionHandler.Get)
		sess.GET("/:id/validate", sessionHandler.Validate)
		sess.POST("/:id/refresh", sessionHandler.Refresh)
		sess.POST("/:id/activity", sessionHandler.Activity)
		sess.DELETE("/:id", sessionHandler.Terminate)
	}

	// Overrides
	overrideHandler, err := handlers.NewOverrideHandler(engine)
	if err != nil {
		return nil, err
	}
	ovr := api.Group("/overrides")
	{
		// PIN attempts are rate limited per client on top of the directory's
		// account lockout counter.
		ovr.POST("/authenticate", middleware.RateLimit(30, time.Minute), overrideHandler.Authenticate)
		ovr.POST("", overrideHandler.Create)
		ovr.GET("", overrideHandler.List)
		ovr.GET("/:id", overrideHandler.Get)
		ovr.POST("/:id/approve", overrideHandler.Approve)
		ovr.POST("/:id/deny", overrideHandler.Deny)
		ovr.POST("/:id/execute", overrideHandler.Execute)
	}

	// Audit
	if audits != nil {
		auditHandler, err := handlers.NewAuditHandler(audits)
		if err != nil {
			return nil, err
		}
		api.GET("/audit", auditHandler.List)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
