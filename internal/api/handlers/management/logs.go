package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/logging"
)

const defaultLogLimit = 200

// GetLogs returns recent log lines. Query parameters: level (minimum),
// session, since (RFC 3339) and limit.
func (h *Handler) GetLogs(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []logging.LogEntry{}})
		return
	}
	q := logging.Query{
		Level:   c.Query("level"),
		Session: c.Query("session"),
		Limit:   defaultLogLimit,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "limit must be a non-negative integer", err))
			return
		}
		q.Limit = n
	}
	if raw := c.Query("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "since must be an RFC 3339 timestamp", err))
			return
		}
		q.Since = ts
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.logs.Entries(q)})
}
