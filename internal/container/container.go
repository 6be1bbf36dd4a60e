package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-approval/pkg/database"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	tx           *sqlite.DB
	applied      int
	repositories *RepositoryBundle

	// Domain
	policy *PolicyBundle

	// Infrastructure - External
	external *ExternalBundle

	// Application
	services *ServiceBundle

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() or StartStorage() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Approval policy
// 3. External clients (OpenAI, SendGrid, Lark)
// 4. Application services
func (c *Container) Start(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkStartable(); err != nil {
		return err
	}
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.Int("migrations_applied", c.applied))

	// Step 2: Load the approval policy
	if err := c.initPolicy(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to load policy: %w", err)
	}

	// Step 3: Initialize external clients
	if err := c.initExternalClients(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized",
		zap.Bool("sendgrid", c.external.Mailer.Configured()),
		zap.Bool("lark", c.external.Lark != nil))

	// Step 4: Initialize application services
	if err := c.initServices(); err != nil {
		c.closeDatabase()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// StartStorage initializes only the database, repositories and the invoice service.
// Operator tooling uses it without LLM or e-mail credentials.
func (c *Container) StartStorage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkStartable(); err != nil {
		return err
	}

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.services = &ServiceBundle{
		Invoice: ProvideInvoiceService(c.repositories, c.tx, c.logger),
	}

	c.ready.Store(true)
	return nil
}

func (c *Container) checkStartable() error {
	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	// Services and external clients hold no resources
	err := c.closeDatabase()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return fmt.Errorf("close database: %w", err)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) closeDatabase() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Ping reports whether the database is reachable.
func (c *Container) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	// Check database
	if err := c.Ping(ctx); err != nil {
		status.Components["database"] = ComponentHealth{
			Healthy: false,
			Message: err.Error(),
		}
		status.Overall = false
	} else {
		status.Components["database"] = ComponentHealth{Healthy: true}
	}

	// Check services
	if c.services != nil {
		status.Components["services"] = ComponentHealth{Healthy: true}
	} else {
		status.Components["services"] = ComponentHealth{
			Healthy: false,
			Message: "not initialized",
		}
		status.Overall = false
	}

	// E-mail falls back to logging, so an unconfigured mailer is reported but healthy
	if c.external != nil {
		msg := "configured"
		if !c.external.Mailer.Configured() {
			msg = "not configured, notifications are logged"
		}
		status.Components["email"] = ComponentHealth{Healthy: true, Message: msg}
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.tx = dbBundle.TransactionMgr
	c.applied = dbBundle.Applied

	repos, err := ProvideRepositories(c.db.DB, c.logger)
	if err != nil {
		c.closeDatabase()
		return err
	}

	c.repositories = repos
	return nil
}

// initPolicy loads the approval rules and policy text.
func (c *Container) initPolicy() error {
	bundle, err := ProvidePolicy(&c.config.Policy, c.logger)
	if err != nil {
		return err
	}
	c.policy = bundle
	return nil
}

// initExternalClients initializes the OpenAI, SendGrid and Lark clients using providers.
func (c *Container) initExternalClients() error {
	external, err := ProvideExternalClients(c.config, c.logger)
	if err != nil {
		return err
	}
	c.external = external
	return nil
}

// initServices initializes all application services using providers.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Config:    c.config,
		Repos:     c.repositories,
		TxManager: c.tx,
		Policy:    c.policy,
		External:  c.external,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	return nil
}

// Getters for accessing container components

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.tx
}

// MigrationsApplied returns the number of migrations run at start.
func (c *Container) MigrationsApplied() int {
	return c.applied
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Policy returns the loaded approval policy.
func (c *Container) Policy() *PolicyBundle {
	return c.policy
}

// External returns the external clients.
func (c *Container) External() *ExternalBundle {
	return c.external
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}
