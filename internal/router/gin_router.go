// Package router wraps a Gin engine with the middleware stack and
// server lifecycle shared by all four services.
package router

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/middleware"
)

// Server owns one service's HTTP surface: the engine with CORS,
// request logging, and Prometheus metrics applied, plus graceful
// start/stop around net/http.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	cfg     config.ServerConfig
	logger  *logrus.Logger
	service string

	mu      sync.Mutex
	running bool
}

// New builds the engine for one service. The register callback mounts
// the service's own routes after the shared middleware; /metrics is
// served from a per-service Prometheus registry.
func New(service string, cfg config.ServerConfig, logger *logrus.Logger, register func(*gin.Engine)) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	gin.SetMode(cfg.Mode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.RequestLogging {
		engine.Use(middleware.RequestLogger(logger, "/v1/health", "/metrics"))
	}

	metrics := middleware.NewMetrics(service)
	engine.Use(metrics.Middleware())
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	if register != nil {
		register(engine)
	}

	return &Server{
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		service: service,
	}
}

// Engine returns the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves on addr until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"service": s.service,
		"addr":    addr,
	}).Info("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running || s.server == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.engine.ServeHTTP(w, req)
}
