package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/keywarden/keywarden/internal/config"
	"github.com/keywarden/keywarden/internal/keys"
	"github.com/keywarden/keywarden/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// Server is the HTTP server for the keywarden service.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	logger     observability.Logger
	config     *config.ServerConfig
	mu         sync.Mutex
	running    bool
}

// NewServer creates the HTTP server and mounts all routes.
func NewServer(cfg *config.ServerConfig, manager *keys.Manager, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(Recovery(logger))

	s := &Server{
		engine:   engine,
		handlers: NewHandlers(manager, logger),
		logger:   logger,
		config:   cfg,
	}

	extractor := DefaultExtractor()
	engine.Use(UsageLogging(manager, extractor, logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Administrative surface. Validation of the caller's own key guards
	// it like any other protected route.
	admin := engine.Group("/v1", Auth(manager, extractor, logger))
	s.handlers.Register(admin)

	// Self-service validation endpoint: answers "does my key work"
	// without exposing the admin surface.
	engine.GET("/v1/validate", Auth(manager, extractor, logger), func(c *gin.Context) {
		entity, _ := EntityFromContext(c)
		c.JSON(http.StatusOK, entity)
	})

	return s
}

// Engine returns the underlying gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout.Duration(),
		WriteTimeout: s.config.WriteTimeout.Duration(),
		IdleTimeout:  s.config.IdleTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", s.config.Address))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("HTTP server stopped")
	return nil
}
