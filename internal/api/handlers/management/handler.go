// Package management serves the /v0/prune API used by operators and the host
// application to inspect and drive the pruning engine.
package management

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/prunepilot/internal/engine"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/logging"
	"github.com/router-for-me/prunepilot/internal/session"
	log "github.com/sirupsen/logrus"
)

// HeaderManagementKey authenticates management requests.
const HeaderManagementKey = "X-Management-Key"

// Engine is the subset of the pruning engine the API drives.
type Engine interface {
	SessionIDs() []string
	Status(ctx context.Context, sessionID string) (*engine.Status, error)
	PruneByNumericIDs(ctx context.Context, sessionID string, ids []int, reason string) (*janitor.PruningResult, error)
	OnIdle(ctx context.Context, sessionID string) (*janitor.PruningResult, error)
	Analyze(ctx context.Context, sessionID string) (*janitor.PruningResult, error)
	TransformTranscript(ctx context.Context, sessionID string, msgs []session.Message) []session.Message
	HideMessages(ctx context.Context, sessionID string, messageIDs []string) int
	Reset(ctx context.Context, sessionID string)
}

// Handler serves the management routes.
type Handler struct {
	engine Engine
	logs   *logging.RingBuffer
	key    atomic.Pointer[string]
}

// NewHandler creates a handler. An empty key restricts access to loopback clients.
func NewHandler(e Engine, logs *logging.RingBuffer, key string) *Handler {
	h := &Handler{engine: e, logs: logs}
	h.SetKey(key)
	return h
}

// SetKey replaces the management key.
func (h *Handler) SetKey(key string) {
	key = strings.TrimSpace(key)
	h.key.Store(&key)
}

// Register attaches the routes to group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.Use(h.Middleware())
	group.GET("/sessions", h.ListSessions)
	group.GET("/sessions/:id", h.GetSession)
	group.DELETE("/sessions/:id", h.ResetSession)
	group.POST("/sessions/:id/prune", h.Prune)
	group.POST("/sessions/:id/idle", h.Idle)
	group.POST("/sessions/:id/analyze", h.Analyze)
	group.POST("/sessions/:id/transform", h.Transform)
	group.POST("/sessions/:id/hide", h.Hide)
	group.GET("/logs", h.GetLogs)
}

// Middleware checks the management key. The key may also be sent as a
// bearer token.
func (h *Handler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := *h.key.Load()
		if key == "" {
			if !isLoopback(c.ClientIP()) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management API is restricted to localhost"})
				return
			}
			c.Next()
			return
		}
		provided := strings.TrimSpace(c.GetHeader(HeaderManagementKey))
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing management key"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid management key"})
			return
		}
		c.Next()
	}
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	return parsed != nil && parsed.IsLoopback()
}

// writeError renders err as {"error": {...}} with the status it carries.
func writeError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(apperrors.StatusCode(err), gin.H{"error": appErr})
		return
	}
	log.WithError(err).WithField("path", c.Request.URL.Path).Error("management request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal_error", "message": err.Error()}})
}
