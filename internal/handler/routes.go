package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bitbucket-proxy-go/internal/config"
	"bitbucket-proxy-go/internal/metrics"
	"bitbucket-proxy-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The token
// guard applies only to the GET proxies; the token exchange authenticates
// with the consumer credentials instead.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, bb *BitbucketHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	api := e.Group("/api/bitbucket")
	api.POST("/token", bb.ExchangeToken)
	api.GET("/repositories", bb.ListRepositories, middleware.RequireToken())
	api.GET("/user", bb.GetUser, middleware.RequireToken())
	api.GET("/search/repositories", bb.SearchRepositories, middleware.RequireToken())

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
