package handlers

import (
	"transtrack-api/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(router *gin.Engine, fleet *services.FleetService) {
	router.GET("/health", Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", LiveWebSocket(fleet))

	buses := NewBusHandler(fleet)
	incidents := NewIncidentHandler(fleet)

	api := router.Group("/api")
	{
		api.GET("/buses", buses.List)
		api.GET("/buses/:id", buses.Get)
		api.PUT("/buses/:id", buses.Register)
		api.POST("/buses/:id/update", buses.Update)
		api.GET("/stations", buses.Stations)

		api.POST("/incidents", incidents.Create)
		api.GET("/incidents", incidents.List)
	}
}
