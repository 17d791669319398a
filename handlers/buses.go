package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"transtrack-api/services"

	"github.com/gin-gonic/gin"
)

type BusHandler struct {
	fleet *services.FleetService
}

func NewBusHandler(fleet *services.FleetService) *BusHandler {
	return &BusHandler{fleet: fleet}
}

// serviceError maps service sentinels to status codes.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBusNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *BusHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.fleet.Snapshot().Buses)
}

func (h *BusHandler) Get(c *gin.Context) {
	bus, err := h.fleet.EnrichedBus(c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

func (h *BusHandler) Update(c *gin.Context) {
	var req services.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	bus, err := h.fleet.ApplyUpdate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "bus": bus})
}

func (h *BusHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	bus, err := h.fleet.Register(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, bus)
}

func (h *BusHandler) Stations(c *gin.Context) {
	c.JSON(http.StatusOK, h.fleet.StationOccupancy())
}
