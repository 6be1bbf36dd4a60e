// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DefaultRecipient receives e-mails sent without an explicit address
	DefaultRecipient string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Services groups the application services exposed over HTTP
type Services struct {
	Submissions service.SubmissionService
	Invoices    service.InvoiceService
	Approvals   service.ApprovalService
	Emails      EmailSender
	// Ping checks backing stores for /health; optional
	Ping func(ctx context.Context) error
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	// Set gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = entity.MaxUploadBytes + 1<<20
	router.SetHTMLTemplate(pageTemplates)

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		logger:   logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware propagates or assigns a request id
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// recoveryMiddleware turns panics into a JSON 500
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.logger.Error("Panic recovered",
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path,
			"request_id", c.GetString("request_id"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "internal server error",
		})
	})
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.config.DefaultRecipient, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	// Submission
	s.router.POST("/extract", handlers.SubmitInvoice)

	// Review links sent to approvers
	s.router.GET("/approvals/:id/review", handlers.ReviewPage)
	s.router.GET("/approvals/:id/decide", handlers.DecideRedirect)
	s.router.POST("/approvals/:id/decide", handlers.Decide)

	// API routes
	api := s.router.Group("/api")
	{
		// Invoices
		api.GET("/invoices", handlers.ListInvoices)
		api.GET("/invoices/export", handlers.ExportInvoices)
		api.GET("/invoices/:id", handlers.GetInvoice)

		// Approvals
		api.POST("/approvals/start", handlers.StartApproval)
		api.GET("/approvals", handlers.ListApprovals)
		api.GET("/approvals/:id", handlers.GetApproval)

		// E-mails
		api.POST("/emails/approval/preview", handlers.PreviewApprovalEmail)
		api.POST("/emails/approval/send", handlers.SendApprovalEmail)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
