package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// ConnectionTracker counts requests currently being served.
type ConnectionTracker struct {
	count atomic.Int64
}

// Count returns the number of in-flight requests.
func (ct *ConnectionTracker) Count() int64 {
	return ct.count.Load()
}

// Middleware counts the request for its whole lifetime, including streaming.
func (ct *ConnectionTracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ct.count.Add(1)
		defer ct.count.Add(-1)
		c.Next()
	}
}
