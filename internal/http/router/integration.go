package router

import (
	"github.com/gin-gonic/gin"

	"jirareporter.app/reporter/internal/http/handler"
)

func IntegrationRouter(rg *gin.RouterGroup, h *handler.IntegrationHandler) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
}
