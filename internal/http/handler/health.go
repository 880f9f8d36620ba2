package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jirareporter.app/reporter/internal/http/dto"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	broker Pinger
}

func NewHealthHandler(broker Pinger) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health reports whether the broker connection is usable.
func (h *HealthHandler) Health(c *gin.Context) {
	if h.broker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.broker.Ping(ctx); err != nil {
		slog.WarnContext(ctx, "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, dto.Failed("broker unavailable"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
