package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aiutox/eventbus/pkg/bus"
	"github.com/aiutox/eventbus/pkg/stream"
)

// Server represents the admin HTTP API server
type Server struct {
	router    *gin.Engine
	server    *http.Server
	log       stream.Log
	publisher *bus.Publisher
	source    string
	logger    *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port      int
	Log       stream.Log
	Publisher *bus.Publisher
	// Source stamped on test events published without one
	Source string
	Logger *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:    router,
		log:       cfg.Log,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		logger:    cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/streams/:name", s.handleGetStream)
		v1.GET("/streams/:name/groups", s.handleListGroups)
		v1.GET("/streams/:name/groups/:group/pending", s.handleListPending)
		v1.GET("/streams/:name/entries", s.handleListEntries)
		v1.POST("/streams/:name/entries/:id/redrive", s.handleRedrive)
		v1.DELETE("/streams/:name", s.handleClearStream)

		v1.POST("/events/test", s.handleTestEvent)
	}
}

// SetupTail adds the live-tail WebSocket handler to the server
func (s *Server) SetupTail(handler interface {
	HandleTail(*gin.Context)
}) {
	s.router.GET("/api/v1/streams/:name/tail", handler.HandleTail)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
