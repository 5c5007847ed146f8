// Package middleware provides the Gin middleware of the proxy server.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/prunepilot/internal/metrics"
)

// PrometheusMiddleware records request counts and durations per normalized path.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		metrics.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath keeps label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/healthz", path == "/metrics":
		return path
	case path == "/v1/chat/completions" || path == "/chat/completions":
		return "/v1/chat/completions"
	case path == "/v1/messages" || path == "/messages":
		return "/v1/messages"
	case path == "/v1/responses" || path == "/responses":
		return "/v1/responses"
	case strings.HasPrefix(path, "/v1beta/"):
		return "/v1beta/*"
	case strings.HasPrefix(path, "/v0/prune/"):
		return "/v0/prune/*"
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/*"
	default:
		return "other"
	}
}
