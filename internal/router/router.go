package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcpdeploy/internal/handlers"
	"github.com/imyashkale/mcpdeploy/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by Setup
type Handlers struct {
	Health      *handlers.HealthHandler
	Services    *handlers.ServiceHandler
	Deployments *handlers.DeploymentHandler
	Tools       *handlers.ToolsHandler
}

// Setup configures and returns the application router. registry backs the
// unauthenticated /metrics endpoint and may be nil to omit it.
func Setup(h Handlers, authSecret string, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORS())

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	v1 := router.Group("/api/v1")

	// Health check stays reachable for load balancers
	v1.GET("/health", h.Health.Check)

	v1.Use(middleware.Authentication(authSecret))

	svc := v1.Group("/services")
	{
		svc.POST("", h.Services.Create)
		svc.GET("", h.Services.List)
		svc.GET("/summary", h.Services.Summary)
		svc.GET("/:id", h.Services.Get)
		svc.PATCH("/:id/status", h.Services.CheckStatus)
		svc.POST("/:id/discover", h.Services.Discover)
	}

	v1.GET("/deployments/:service_id/:deploy_id", h.Deployments.Get)

	v1.GET("/tools", h.Tools.Discover)
	v1.POST("/tools", h.Tools.DiscoverBatch)

	return router
}
