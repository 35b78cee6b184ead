// Package api provides an HTTP surface over a session cipher, generalizing
// the teacher's pkg/meshstorage/api server (gin router, CORS/rate-limit/
// logging middleware, Config/DefaultConfig, graceful Start/Stop) from mesh
// storage upload/download endpoints onto encrypt/decrypt/session-inspection
// endpoints for one local identity's SessionCipher.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zentalk/ratchetcore/pkg/cipher"
)

// Server is the HTTP front end for a single SessionCipher.
type Server struct {
	cipher     *cipher.SessionCipher
	router     *gin.Engine
	port       int
	httpServer *http.Server
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8443,
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates an HTTP API server bound to c.
func NewServer(c *cipher.SessionCipher, config *Config, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		cipher: c,
		router: router,
		port:   config.Port,
		logger: logger,
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(config.RateLimit))
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions/:name/:deviceId")
		{
			sessions.POST("/encrypt", s.handleEncrypt)
			sessions.POST("/decrypt", s.handleDecrypt)
			sessions.GET("/info", s.handleSessionInfo)
		}
	}
	s.router.GET("/health", s.handleHealth)
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api server starting", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// ErrorResponse is the standard error body returned by every handler.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
