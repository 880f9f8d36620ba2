package router

import (
	"github.com/gin-gonic/gin"

	"jirareporter.app/reporter/internal/http/handler"
	"jirareporter.app/reporter/internal/http/middleware"
	"jirareporter.app/reporter/internal/service"
)

type RouterConfig struct {
	AdminAPIKey string
	Broker      handler.Pinger
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	healthHandler := handler.NewHealthHandler(cfg.Broker)
	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
	{
		integrationHandler := handler.NewIntegrationHandler(services.Integrations())
		IntegrationRouter(v1.Group("/integrations"), integrationHandler)
	}
}
