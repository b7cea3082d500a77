package middleware

import (
	"net/http"
	"strings"

	"procwatch/pkg/config"
	"procwatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware guards control endpoints with the configured API key. The
// key may arrive as a bearer token, an X-API-Key header, or a token query
// parameter (WebSocket clients cannot set headers from a browser). When no
// key is configured the middleware is a no-op.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := config.GlobalConfig.Server.APIKey
		if expected == "" {
			c.Next()
			return
		}

		if requestToken(c) != expected {
			logger.Warnf("unauthorized request to %s, invalid API key", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func requestToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := c.GetHeader("X-API-Key"); h != "" {
		return h
	}
	return c.Query("token")
}
