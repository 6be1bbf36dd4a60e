package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/container"
	httpserver "github.com/garyjia/invoice-approval/internal/interfaces/http"
	"github.com/garyjia/invoice-approval/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(cfg.Logger.ToUtils())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting invoice approval service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer c.Close()

	services := c.Services()
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		DefaultRecipient: cfg.Approvers.Fallback.Email,
	}, httpserver.Services{
		Submissions: services.Submission,
		Invoices:    services.Invoice,
		Approvals:   services.Approval,
		Emails:      c.External().Mailer,
		Ping:        c.Ping,
	}, utils.NewKeyValueLogger(logger))

	// Blocks until a signal cancels ctx, then shuts down gracefully
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
