// Package api implements the HTTP server of the pruning proxy: it forwards
// model requests to their upstream after the interception layer rewrote them,
// and serves the management API and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/prunepilot/internal/api/handlers/management"
	"github.com/router-for-me/prunepilot/internal/api/middleware"
	"github.com/router-for-me/prunepilot/internal/config"
	"github.com/router-for-me/prunepilot/internal/intercept"
	"github.com/router-for-me/prunepilot/internal/logging"
	"github.com/router-for-me/prunepilot/internal/metrics"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	logs *logging.RingBuffer
}

// ServerOption customises server construction.
type ServerOption func(*serverOptionConfig)

// WithLogBuffer serves logs from buf instead of the global buffer.
func WithLogBuffer(buf *logging.RingBuffer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.logs = buf
	}
}

// Server is the proxy HTTP server.
type Server struct {
	engine      *gin.Engine
	server      *http.Server
	cfg         atomic.Pointer[config.Config]
	mgmt        *management.Handler
	connections *middleware.ConnectionTracker
	upstreams   *upstreamProxies
}

// NewServer builds the router. eng drives the management API; interceptor
// rewrites outbound model requests.
func NewServer(cfg *config.Config, eng management.Engine, interceptor *intercept.Interceptor, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{logs: logging.GlobalBuffer}
	for i := range opts {
		opts[i](optionState)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	engine := gin.New()
	s := &Server{
		engine:      engine,
		connections: &middleware.ConnectionTracker{},
	}
	s.cfg.Store(cfg)
	s.upstreams = newUpstreamProxies(func(family string) string {
		return s.getConfig().UpstreamFor(family)
	})
	s.mgmt = management.NewHandler(eng, optionState.logs, cfg.ManagementKey)

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(s.connections.Middleware())

	s.setupRoutes(interceptor)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.GetPort())),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(interceptor *intercept.Interceptor) {
	model := []gin.HandlerFunc{
		middleware.RequestDecompressionMiddleware(),
		intercept.Middleware(interceptor),
	}
	route := func(group gin.IRoutes, method, path, family string) {
		handlers := append(append([]gin.HandlerFunc{}, model...), s.upstreams.forward(family))
		group.Handle(method, path, handlers...)
	}

	v1 := s.engine.Group("/v1")
	route(v1, http.MethodPost, "/chat/completions", FamilyOpenAI)
	route(v1, http.MethodPost, "/responses", FamilyOpenAI)
	route(v1, http.MethodPost, "/messages", FamilyAnthropic)
	route(v1, http.MethodPost, "/messages/count_tokens", FamilyAnthropic)
	v1.GET("/models", s.upstreams.forward(FamilyOpenAI))

	v1beta := s.engine.Group("/v1beta")
	route(v1beta, http.MethodPost, "/models/*action", FamilyGemini)
	v1beta.GET("/models", s.upstreams.forward(FamilyGemini))
	v1beta.GET("/models/*action", s.upstreams.forward(FamilyGemini))

	// Root-level aliases for clients that omit /v1.
	route(s.engine, http.MethodPost, "/chat/completions", FamilyOpenAI)
	route(s.engine, http.MethodPost, "/responses", FamilyOpenAI)
	route(s.engine, http.MethodPost, "/messages", FamilyAnthropic)

	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"port":     s.getConfig().GetPort(),
			"inFlight": s.connections.Count(),
		})
	})
	s.engine.GET("/metrics", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		metrics.Handler().ServeHTTP(c.Writer, c.Request)
	})
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "PrunePilot",
			"endpoints": []string{
				"POST /v1/chat/completions",
				"POST /v1/responses",
				"POST /v1/messages",
				"POST /v1beta/models/{model}:generateContent",
				"GET /v0/prune/sessions",
				"GET /metrics",
			},
		})
	})

	s.mgmt.Register(s.engine.Group("/v0/prune"))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// UpdateConfig swaps the configuration used for upstream resolution and
// management auth. The listen address only changes on restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.cfg.Store(cfg)
	s.mgmt.SetKey(cfg.ManagementKey)
}

func (s *Server) getConfig() *config.Config {
	return s.cfg.Load()
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("PrunePilot listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("API server stopped")
	return nil
}
