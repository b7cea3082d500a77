package router

import (
	"procwatch/app/handler"
	"procwatch/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	monitorHandler *handler.MonitorHandler
}

// NewRouter creates a new Router
func NewRouter(monitorHandler *handler.MonitorHandler) *Router {
	return &Router{monitorHandler: monitorHandler}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api/v1")
	{
		// Process table and sampler statistics
		api.GET("/processes", r.monitorHandler.ListProcesses)
		api.GET("/processes/:pid", r.monitorHandler.GetProcess)
		api.GET("/stats", r.monitorHandler.GetStats)
		api.GET("/stats/history", r.monitorHandler.GetStatsHistory)

		// Live batch deltas (WebSocket)
		api.GET("/stream", r.monitorHandler.Stream)

		// Sampling control, token-guarded when an API key is configured
		control := api.Group("")
		control.Use(middleware.AuthMiddleware())
		{
			control.POST("/pause", r.monitorHandler.Pause)
			control.POST("/resume", r.monitorHandler.Resume)
		}
	}
}
