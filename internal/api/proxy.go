package api

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	log "github.com/sirupsen/logrus"
)

// Upstream families.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGemini    = "gemini"
)

// upstreamProxies caches one reverse proxy per family and rebuilds it when
// the configured base URL changes.
type upstreamProxies struct {
	mu      sync.Mutex
	targets map[string]string
	proxies map[string]*httputil.ReverseProxy
	resolve func(family string) string
}

func newUpstreamProxies(resolve func(family string) string) *upstreamProxies {
	return &upstreamProxies{
		targets: make(map[string]string),
		proxies: make(map[string]*httputil.ReverseProxy),
		resolve: resolve,
	}
}

func (u *upstreamProxies) get(family string) (*httputil.ReverseProxy, error) {
	base := u.resolve(family)
	u.mu.Lock()
	defer u.mu.Unlock()
	if rp, ok := u.proxies[family]; ok && u.targets[family] == base {
		return rp, nil
	}
	target, err := url.Parse(base)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q for %s", base, family)
	}
	rp := httputil.NewSingleHostReverseProxy(target)
	// Streaming responses are flushed as they arrive.
	rp.FlushInterval = -1
	origDirector := rp.Director
	rp.Director = func(r *http.Request) {
		origDirector(r)
		r.Host = target.Host
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, e error) {
		log.WithError(e).WithFields(log.Fields{"family": family, "path": r.URL.Path}).Warn("upstream request failed")
		appErr := apperrors.UpstreamUnavailable(family, e)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.HTTPStatusCode)
		_, _ = w.Write([]byte(`{"error":` + string(appErr.ToJSON()) + `}`))
	}
	u.proxies[family] = rp
	u.targets[family] = base
	return rp, nil
}

// forward returns a handler proxying the request to family's upstream.
func (u *upstreamProxies) forward(family string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rp, err := u.get(family)
		if err != nil {
			log.WithError(err).Error("no upstream configured")
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error": gin.H{"message": err.Error(), "type": "server_error"},
			})
			return
		}
		c.Set("upstream_family", family)
		start := time.Now()
		rp.ServeHTTP(c.Writer, c.Request)
		log.WithFields(log.Fields{
			"family":  family,
			"path":    c.Request.URL.Path,
			"elapsed": time.Since(start).Truncate(time.Millisecond),
		}).Debug("proxied request")
	}
}
