package handlers

import (
	"net/http"
	"time"

	"transtrack-api/models"
	"transtrack-api/services"

	"github.com/gin-gonic/gin"
)

type IncidentHandler struct {
	fleet *services.FleetService
}

func NewIncidentHandler(fleet *services.FleetService) *IncidentHandler {
	return &IncidentHandler{fleet: fleet}
}

func (h *IncidentHandler) Create(c *gin.Context) {
	var req services.IncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	incident, err := h.fleet.ReportIncident(c.Request.Context(), req)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

func (h *IncidentHandler) List(c *gin.Context) {
	p, err := ParsePagination(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.fleet.ListIncidents(c.Request.Context(), p.Limit+1, p.Before)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Page(rows, p.Limit, func(i models.Incident) time.Time { return i.Timestamp }))
}
