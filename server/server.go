// Package server exposes the engine over HTTP: one streaming endpoint per
// run, session management, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/martinemde/autoagent/autoagent"
	"github.com/martinemde/autoagent/observability"
	"github.com/martinemde/autoagent/stream"
)

// Config configures the HTTP server.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	Gatherer        prometheus.Gatherer
}

// Server serves the agent API.
type Server struct {
	engine *autoagent.Engine
	config Config
	router *gin.Engine
	logger *observability.Logger
}

// New builds the router. A nil Gatherer serves the default registry.
func New(engine *autoagent.Engine, config Config, logger *observability.Logger) *Server {
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		engine: engine,
		config: config,
		router: gin.New(),
		logger: observability.OrNop(logger).Component("server"),
	}

	s.router.Use(gin.Recovery(), s.requestLogger())
	if len(config.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if len(config.CORSOrigins) == 1 && config.CORSOrigins[0] == "*" {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = config.CORSOrigins
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
		corsConfig.ExposeHeaders = []string{"X-Session-ID"}
		s.router.Use(cors.New(corsConfig))
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1/agent")
	{
		api.POST("/auto_agent", s.handleAutoAgent)
		api.GET("/sessions", s.handleListSessions)
		api.DELETE("/sessions/:id", s.handleCancelSession)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", s.config.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": len(s.engine.ActiveSessions()),
	})
}

// handleAutoAgent runs one task and streams its events as SSE frames. The
// run is bound to the request context, so a client disconnect cancels it.
func (s *Server) handleAutoAgent(c *gin.Context) {
	var req autoagent.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	stream.SetSSEHeaders(c.Writer)
	c.Header("X-Session-ID", req.SessionID)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sink := stream.NewSSESink(c.Writer)
	if _, err := s.engine.Run(c.Request.Context(), req, sink); err != nil {
		s.logger.Warn("run ended with error", "session_id", req.SessionID, "agent_id", req.AgentID, "error", err)
	}
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.engine.ActiveSessions()})
}

func (s *Server) handleCancelSession(c *gin.Context) {
	id := c.Param("id")
	if !s.engine.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("session %q is not active", id)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": id, "status": "cancelling"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
