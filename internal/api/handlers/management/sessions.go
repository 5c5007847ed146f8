package management

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/session"
)

type pruneRequest struct {
	IDs    []int  `json:"ids"`
	Reason string `json:"reason"`
}

type transformRequest struct {
	Messages []session.Message `json:"messages"`
}

type hideRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func sessionParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		writeError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "session id is required", nil))
		return "", false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "invalid request body", err))
		return false
	}
	return true
}

func writeResult(c *gin.Context, result *janitor.PruningResult, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": result != nil, "result": result})
}

// ListSessions returns the ids of the sessions held in memory.
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.engine.SessionIDs()})
}

// GetSession syncs a session with the host and returns its prune state.
func (h *Handler) GetSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	st, err := h.engine.Status(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ResetSession clears the prune state of a session.
func (h *Handler) ResetSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	h.engine.Reset(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Prune applies a manual prune by the numbers shown in the prunable list.
func (h *Handler) Prune(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req pruneRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.engine.PruneByNumericIDs(c.Request.Context(), id, req.IDs, req.Reason)
	writeResult(c, result, err)
}

// Idle runs the idle strategies, as when the host reports the session idle.
func (h *Handler) Idle(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	result, err := h.engine.OnIdle(c.Request.Context(), id)
	writeResult(c, result, err)
}

// Analyze runs an on-demand analysis pass.
func (h *Handler) Analyze(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	result, err := h.engine.Analyze(c.Request.Context(), id)
	writeResult(c, result, err)
}

// Transform returns the transcript as the model would see it.
func (h *Handler) Transform(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req transformRequest
	if !bindJSON(c, &req) {
		return
	}
	msgs := h.engine.TransformTranscript(c.Request.Context(), id, req.Messages)
	if msgs == nil {
		msgs = []session.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Hide removes messages from what the model sees.
func (h *Handler) Hide(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req hideRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.MessageIDs) == 0 {
		writeError(c, apperrors.New(http.StatusBadRequest, apperrors.CodeInvalidRequest, "messageIds is required", nil))
		return
	}
	added := h.engine.HideMessages(c.Request.Context(), id, req.MessageIDs)
	c.JSON(http.StatusOK, gin.H{"hidden": added})
}
