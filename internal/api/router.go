package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/guildstats/internal/app"
	"github.com/charlesng35/guildstats/internal/middleware"
	"github.com/charlesng35/guildstats/internal/monitoring"
	"github.com/charlesng35/guildstats/pkg/response"
)

// ServiceInfo is reported by the root endpoint.
type ServiceInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// NewRouter builds the Gin engine serving the operational surface: service info, health
// probes and Prometheus metrics. Unknown routes answer with the legacy 404 payload.
func NewRouter(cfg *app.Config, mon *monitoring.Module, info ServiceInfo) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}

	r := gin.New()

	metricsPath := cfg.Monitoring.Prometheus.Endpoint
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger("/health", "/health/live", "/health/ready", metricsPath))
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerRootRoutes(r, info)
	registerHealthRoutes(r, cfg, mon)
	if cfg.Monitoring.Prometheus.Enabled && mon != nil {
		r.GET(metricsPath, gin.WrapH(mon.Handler()))
	}

	r.NoRoute(response.NotFound)
	r.NoMethod(response.NotFound)

	return r, nil
}
