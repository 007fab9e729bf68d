package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/http/handlers"
	"github.com/ngoclaw/ngoclaw/gateway/internal/interfaces/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the gateway's HTTP surface: a gin.Engine with gin.Recovery and
// a zap request-logging middleware in front of the request pipeline
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the HTTP server's listen address and Gin mode.
type Config struct {
	Host       string
	Port       int
	Mode       string // debug, release
	EnableCORS bool
}

// Deps wires the Server's collaborators, all owned by the composition root
// (internal/application.GatewayApp) and passed in by reference — no package-level
// globals.
type Deps struct {
	Limiter  service.Limiter
	Registry service.Registry
	Pools    map[string]service.Pool
	Handler  *handlers.OpenAIHandler
}

// NewServer builds the Gin engine and registers every route.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	if cfg.EnableCORS {
		router.Use(middleware.CORS())
	}

	setupRoutes(router, deps)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; errors after a clean Stop are not
// reported (http.ErrServerClosed).
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes registers the gateway's route table. Health, root, models,
// and queue-status bypass the limiter entirely; chat completions are
// rate-limited and body-size-capped.
func setupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", deps.Handler.Health)
	router.GET("/", deps.Handler.Health)
	router.GET("/v1/models", deps.Handler.ListModels)
	router.GET("/queue/status", deps.Handler.QueueStatus(deps.Pools))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := router.Group("/v1")
	limited.Use(middleware.LimitBody(), middleware.RateLimit(deps.Limiter))
	{
		limited.POST("/chat/completions", deps.Handler.ChatCompletions)
		limited.POST("/:backend/chat/completions", deps.Handler.ChatCompletions)
	}
}

// ginLogger is a zap request-logging middleware.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
