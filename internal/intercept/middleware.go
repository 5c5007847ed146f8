package intercept

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// Headers understood by the proxy.
const (
	HeaderSession      = "X-Session-Id"
	HeaderPruneSession = "X-Prune-Session"
	HeaderRewritten    = "X-Prunepilot-Rewritten"
)

// ContextKeySession is the gin context key holding the resolved session id.
const ContextKeySession = "prunepilot.session"

// SessionKey resolves the host session an outbound request belongs to:
// explicit headers first, then well-known body fields, then a hash of the
// caller's credentials so unrelated clients never share state.
func SessionKey(req *http.Request, body []byte) string {
	if req != nil {
		if v := strings.TrimSpace(req.Header.Get(HeaderPruneSession)); v != "" {
			return v
		}
		if v := strings.TrimSpace(req.Header.Get(HeaderSession)); v != "" {
			return v
		}
	}
	for _, path := range []string{"prompt_cache_key", "metadata.session_id", "session_id"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return strings.TrimSpace(v.Str)
		}
	}
	ua, auth := "", ""
	if req != nil {
		ua = req.Header.Get("User-Agent")
		auth = req.Header.Get("Authorization")
	}
	sum := sha256.Sum256([]byte(auth + "|" + ua))
	return "ua_" + hex.EncodeToString(sum[:8])
}

// Middleware rewrites POST bodies in place before the proxy forwards them.
func Middleware(i *Interceptor) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request
		if i == nil || req == nil || req.Method != http.MethodPost || req.Body == nil || !i.Options().Enabled {
			c.Next()
			return
		}

		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"message": "failed to read request body",
					"type":    "invalid_request_error",
				},
			})
			return
		}
		// restore the body for the next handler before any early return
		req.Body = io.NopCloser(bytes.NewReader(body))

		sessionID := SessionKey(req, body)
		c.Set(ContextKeySession, sessionID)

		out, changed := i.Process(req.Context(), sessionID, req.URL.Path, body)
		if changed {
			req.Body = io.NopCloser(bytes.NewReader(out))
			req.ContentLength = int64(len(out))
			req.Header.Set("Content-Length", strconv.Itoa(len(out)))
			c.Header(HeaderRewritten, "true")
		}
		c.Next()
	}
}
