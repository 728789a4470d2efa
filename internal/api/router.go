// Package api exposes the bridge over HTTP: device inventory and state,
// command submission, session inspection, and the polling schedule.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/api/handlers"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/api/middleware"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
)

// APIKeyHeader carries the key for the authenticated route group
const APIKeyHeader = "X-API-Key"

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Registry *climate.Registry
	Devices  handlers.DeviceAccess
	Sessions handlers.SessionControl
	Poller   handlers.PollerInfo
	Queue    handlers.QueueStats
	APIKey   string
	Logger   *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.ContentType())

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler(config.Queue)
	router.GET("/health", healthHandler.GetHealth)

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(authMiddleware(config.APIKey))
	{
		devicesHandler := handlers.NewDevicesHandler(
			config.Registry,
			config.Devices,
			config.Logger,
		)
		v1.GET("/devices", devicesHandler.ListDevices)
		v1.GET("/devices/:guid/state", devicesHandler.GetDeviceState)
		v1.POST("/devices/:guid/state", devicesHandler.SetDeviceState)

		sessionHandler := handlers.NewSessionHandler(
			config.Sessions,
			config.Logger,
		)
		v1.GET("/session", sessionHandler.GetSession)
		v1.POST("/session/refresh", sessionHandler.RefreshSession)

		pollerHandler := handlers.NewPollerHandler(config.Poller)
		v1.GET("/poller/tasks", pollerHandler.ListTasks)
	}

	return router
}

// authMiddleware verifies API key authentication
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader(APIKeyHeader)
		if providedKey != apiKey {
			c.JSON(401, gin.H{
				"error": "Unauthorized",
				"code":  "UNAUTHORIZED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
