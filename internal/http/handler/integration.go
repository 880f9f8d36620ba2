package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"jirareporter.app/reporter/common/logger"
	"jirareporter.app/reporter/internal/http/dto"
	"jirareporter.app/reporter/internal/service"
	"jirareporter.app/reporter/internal/store"
)

type IntegrationHandler struct {
	integrations service.IntegrationService
}

func NewIntegrationHandler(integrations service.IntegrationService) *IntegrationHandler {
	return &IntegrationHandler{integrations: integrations}
}

func (h *IntegrationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{ConfigID: logger.Ptr(id)})

	cfg, err := h.integrations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.Failed("Not found"))
			return
		}
		slog.ErrorContext(ctx, "failed to get integration config", "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
		return
	}

	c.JSON(http.StatusOK, dto.OK(dto.ToIntegrationConfigResponse(cfg)))
}

// Create stores a new config and queues its verification.
func (h *IntegrationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IntegrationConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, dto.Failed("invalid request: "+err.Error()))
		return
	}

	cfg, err := h.integrations.Create(ctx, req.ToModel(""))
	if err != nil {
		slog.ErrorContext(ctx, "failed to create integration config", "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
		return
	}

	c.JSON(http.StatusAccepted, dto.OK(dto.CreatedResponse{ID: cfg.ID}))
}

// Update replaces a config and queues verification of the new revision.
func (h *IntegrationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{ConfigID: logger.Ptr(id)})

	var req dto.IntegrationConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, dto.Failed("invalid request: "+err.Error()))
		return
	}

	old, updated, err := h.integrations.Update(ctx, req.ToModel(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.Failed("Record not found"))
			return
		}
		slog.ErrorContext(ctx, "failed to update integration config", "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
		return
	}

	c.JSON(http.StatusAccepted, dto.OK(dto.ToUpdatedResponse(old, updated)))
}

func (h *IntegrationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{ConfigID: logger.Ptr(id)})

	if err := h.integrations.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.Failed("Record not found"))
			return
		}
		slog.ErrorContext(ctx, "failed to delete integration config", "error", err)
		c.JSON(http.StatusInternalServerError, dto.InternalError())
		return
	}

	c.JSON(http.StatusOK, dto.OK(nil))
}
