// Package container provides dependency injection and lifecycle management
// for the invoice approval service following Clean Architecture principles.
package container

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/domain/policy"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/openai"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/sendgrid"
	"github.com/garyjia/invoice-approval/internal/infrastructure/pdf"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-approval/internal/infrastructure/report"
	"github.com/garyjia/invoice-approval/internal/infrastructure/security"
	"github.com/garyjia/invoice-approval/migrations"
	"github.com/garyjia/invoice-approval/pkg/database"
	"github.com/garyjia/invoice-approval/pkg/utils"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
	// Applied counts the migrations run while opening
	Applied int
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Invoice  *repository.InvoiceRepository
	Approval *repository.ApprovalRepository
}

// PolicyBundle holds the validated rules and the text handed to the assessor.
type PolicyBundle struct {
	Rules *policy.Policy
	Text  string
}

// ExternalBundle holds clients of outside systems.
type ExternalBundle struct {
	Extractor port.ExtractionProvider
	Assessor  port.ComplianceAssessor
	Mailer    *sendgrid.Mailer
	Lark      *lark.Messenger
	Notifier  port.Notifier
	Signer    *security.LinkSigner
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Submission   service.SubmissionService
	Invoice      service.InvoiceService
	Approval     service.ApprovalService
	Notification service.NotificationService
}

// ProvideDatabase opens the database and runs pending migrations.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
		Applied:        applied,
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Invoice:  repository.NewInvoiceRepository(sqlDB, logger),
		Approval: repository.NewApprovalRepository(sqlDB, logger),
	}, nil
}

// ProvidePolicy loads the approval rules. A malformed policy is fatal.
// Without a policy document the rules file itself is given to the assessor.
func ProvidePolicy(cfg *config.PolicyConfig, logger *zap.Logger) (*PolicyBundle, error) {
	rules, err := policy.LoadFile(cfg.RulesPath)
	if err != nil {
		return nil, err
	}

	textPath := cfg.DocumentPath
	text, err := os.ReadFile(textPath)
	if errors.Is(err, os.ErrNotExist) || textPath == "" {
		logger.Warn("Policy document not found, using rules file as policy text",
			zap.String("document_path", textPath))
		textPath = cfg.RulesPath
		text, err = os.ReadFile(textPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy text %s: %w", textPath, err)
	}

	logger.Info("Policy loaded",
		zap.String("version", rules.Version),
		zap.String("auto_approve_ceiling", rules.AutoApproveCeiling.String()),
		zap.Int("tiers", len(rules.TierBoundaries)))

	return &PolicyBundle{Rules: rules, Text: string(text)}, nil
}

// ProvideExternalClients creates the LLM, e-mail, chat and link signing clients.
func ProvideExternalClients(cfg *config.Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	prompts := openai.DefaultPrompts()
	if cfg.OpenAI.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.OpenAI.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		prompts = loaded
	}

	client := openai.NewClient(openai.ClientConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.OpenAI.Burst,
		MaxRetries:        cfg.OpenAI.MaxRetries,
		RetryDelay:        cfg.OpenAI.RetryDelay,
	}, logger)

	extractor := openai.NewExtractor(
		client,
		pdf.NewTextExtractor(cfg.Extraction.MaxPages, logger),
		prompts,
		openai.ExtractorConfig{
			RecipientOrg:   cfg.Extraction.RecipientOrg,
			MaxPromptChars: cfg.Extraction.MaxPromptChars,
		},
		logger,
	)

	mailer := ProvideMailer(cfg, logger)

	kv := utils.NewKeyValueLogger(logger)
	notifiers := []port.Notifier{mailer}
	var messenger *lark.Messenger
	if cfg.Lark.Enabled() {
		messenger = lark.NewMessenger(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			BaseURL:   cfg.Lark.BaseURL,
		}, logger)
		notifiers = append(notifiers, messenger)
	}

	signer, err := security.NewLinkSigner(cfg.Security.AppSecret, cfg.Security.LinkTTL)
	if err != nil {
		return nil, err
	}

	return &ExternalBundle{
		Extractor: extractor,
		Assessor:  openai.NewAssessor(client, prompts, logger),
		Mailer:    mailer,
		Lark:      messenger,
		Notifier:  service.NewFanoutNotifier(kv, notifiers...),
		Signer:    signer,
	}, nil
}

// ProvideMailer creates the SendGrid mailer; it only logs when SendGrid is not configured.
func ProvideMailer(cfg *config.Config, logger *zap.Logger) *sendgrid.Mailer {
	return sendgrid.NewMailer(sendgrid.Config{
		APIKey:     cfg.Email.SendGridAPIKey,
		FromEmail:  cfg.Email.FromEmail,
		FromName:   cfg.Email.FromName,
		TemplateID: cfg.Email.TemplateID,
		Endpoint:   cfg.Email.Endpoint,
		BaseURL:    cfg.Server.BaseURL,
		Brand:      cfg.Email.Brand,
		Footer:     cfg.Email.Footer,
	}, logger)
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Config    *config.Config
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Policy    *PolicyBundle
	External  *ExternalBundle
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service deps is required")
	}
	if deps.Repos == nil || deps.TxManager == nil {
		return nil, fmt.Errorf("repositories and transaction manager are required")
	}
	if deps.Policy == nil || deps.External == nil {
		return nil, fmt.Errorf("policy and external clients are required")
	}

	kv := utils.NewKeyValueLogger(deps.Logger)

	notifications := service.NewNotificationService(
		deps.Repos.Approval,
		deps.External.Notifier,
		deps.Config.Approvers.Directory(),
		deps.Config.Server.BaseURL,
		kv,
	)

	approvals := service.NewApprovalService(service.ApprovalDependencies{
		InvoiceRepo:   deps.Repos.Invoice,
		ApprovalRepo:  deps.Repos.Approval,
		TxManager:     deps.TxManager,
		Assessor:      deps.External.Assessor,
		Engine:        policy.NewEngine(),
		Policy:        deps.Policy.Rules,
		PolicyText:    deps.Policy.Text,
		Notifications: notifications,
		Signer:        deps.External.Signer,
		Logger:        kv,
	})

	guard := service.NewDuplicateGuard(deps.Repos.Invoice, deps.TxManager, kv)

	return &ServiceBundle{
		Submission:   service.NewSubmissionService(deps.External.Extractor, deps.Repos.Invoice, guard, approvals, kv),
		Invoice:      ProvideInvoiceService(deps.Repos, deps.TxManager, deps.Logger),
		Approval:     approvals,
		Notification: notifications,
	}, nil
}

// ProvideInvoiceService creates the invoice listing, export and maintenance service.
func ProvideInvoiceService(repos *RepositoryBundle, txManager port.TransactionManager, logger *zap.Logger) service.InvoiceService {
	return service.NewInvoiceService(
		repos.Invoice,
		repos.Approval,
		report.NewInvoiceExporter(logger),
		txManager,
		utils.NewKeyValueLogger(logger),
	)
}
