package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"heatbridge/internal/api/middleware"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Coordinator Coordinator
	APIKey      string
	Logger      *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))

	// Health check (no auth)
	router.GET("/health", getHealth)

	handler := newTelemetryHandler(config.Coordinator, config.Logger)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.BearerAuth(config.APIKey))
	{
		v1.GET("/devices", handler.listDevices)
		v1.GET("/devices/:id", handler.getDevice)
		v1.GET("/sensors", handler.listSensors)
		v1.GET("/status", handler.getStatus)
		v1.POST("/refresh", handler.triggerRefresh)
	}

	return router
}
