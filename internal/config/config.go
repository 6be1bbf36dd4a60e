package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/garyjia/invoice-approval/internal/infrastructure/external/sendgrid"
	"github.com/garyjia/invoice-approval/pkg/utils"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Approvers  ApproversConfig  `mapstructure:"approvers"`
	Email      EmailConfig      `mapstructure:"email"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// BaseURL is the public address used in review links
	BaseURL string `mapstructure:"base_url"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	PromptsPath       string        `mapstructure:"prompts_path"`
}

// ExtractionConfig holds document extraction settings
type ExtractionConfig struct {
	RecipientOrg   string `mapstructure:"recipient_org"`
	MaxPromptChars int    `mapstructure:"max_prompt_chars"`
	MaxPages       int    `mapstructure:"max_pages"`
}

// PolicyConfig locates the approval rules and the policy text shown to the assessor
type PolicyConfig struct {
	RulesPath    string `mapstructure:"rules_path"`
	DocumentPath string `mapstructure:"document_path"`
}

// ApproversConfig maps approver tiers to people
type ApproversConfig struct {
	Manager        entity.Approver `mapstructure:"manager"`
	FinanceManager entity.Approver `mapstructure:"finance_manager"`
	Executive      entity.Approver `mapstructure:"executive"`
	Fallback       entity.Approver `mapstructure:"fallback"`
	Audit          entity.Approver `mapstructure:"audit"`
}

// Directory converts the configured approvers for the notification service
func (a ApproversConfig) Directory() service.ApproverDirectory {
	return service.ApproverDirectory{
		Tiers: map[entity.ApproverTier]entity.Approver{
			entity.TierManager:        a.Manager,
			entity.TierFinanceManager: a.FinanceManager,
			entity.TierExecutive:      a.Executive,
		},
		Fallback: a.Fallback,
		Audit:    a.Audit,
	}
}

// EmailConfig holds SendGrid configuration
type EmailConfig struct {
	SendGridAPIKey string          `mapstructure:"sendgrid_api_key"`
	FromEmail      string          `mapstructure:"from_email"`
	FromName       string          `mapstructure:"from_name"`
	TemplateID     string          `mapstructure:"template_id"`
	Endpoint       string          `mapstructure:"endpoint"`
	Brand          sendgrid.Brand  `mapstructure:"brand"`
	Footer         sendgrid.Footer `mapstructure:"footer"`
}

// LarkConfig holds Lark API configuration. Lark notifications are off without an app id.
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// Enabled reports whether Lark credentials are configured
func (l LarkConfig) Enabled() bool {
	return l.AppID != "" && l.AppSecret != ""
}

// SecurityConfig holds review link signing settings
type SecurityConfig struct {
	AppSecret string        `mapstructure:"app_secret"`
	LinkTTL   time.Duration `mapstructure:"link_ttl"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// ToUtils converts to the logger constructor's configuration
func (l LoggerConfig) ToUtils() utils.LoggerConfig {
	return utils.LoggerConfig{Level: l.Level, OutputPath: l.OutputPath, Format: l.Format}
}

// Load reads configuration from file and environment variables and validates it
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read loads configuration without validating service credentials.
// A missing config file is tolerated; defaults and environment still apply.
func Read(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv exports variables from path without overriding the environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.base_url", "http://localhost:8080")

	// Database defaults
	v.SetDefault("database.path", "data/invoices.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.requests_per_second", 0)
	v.SetDefault("openai.burst", 1)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("openai.retry_delay", time.Second)
	v.SetDefault("openai.prompts_path", "")

	// Extraction defaults
	v.SetDefault("extraction.recipient_org", "")
	v.SetDefault("extraction.max_prompt_chars", entity.MaxPromptChars)
	v.SetDefault("extraction.max_pages", 10)

	// Policy defaults
	v.SetDefault("policy.rules_path", "configs/policy.yaml")
	v.SetDefault("policy.document_path", "configs/policy.md")

	// Approver defaults
	for _, role := range []string{"manager", "finance_manager", "executive", "fallback", "audit"} {
		v.SetDefault("approvers."+role+".name", "")
		v.SetDefault("approvers."+role+".email", "")
	}

	// Email defaults
	v.SetDefault("email.sendgrid_api_key", "")
	v.SetDefault("email.from_email", "")
	v.SetDefault("email.from_name", "Invoice Approvals")
	v.SetDefault("email.template_id", "")
	v.SetDefault("email.endpoint", "")
	v.SetDefault("email.brand.name", "Invoice Approvals")
	v.SetDefault("email.brand.logo_url", "")
	v.SetDefault("email.footer.help_url", "")
	v.SetDefault("email.footer.preferences_url", "")

	// Lark defaults
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.base_url", "")

	// Security defaults
	v.SetDefault("security.app_secret", "")
	v.SetDefault("security.link_ttl", 7*24*time.Hour)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("email.sendgrid_api_key", "SENDGRID_API_KEY")
	_ = v.BindEnv("email.from_email", "FROM_EMAIL")
	_ = v.BindEnv("approvers.fallback.email", "APPROVAL_EMAIL")
	_ = v.BindEnv("security.app_secret", "APP_SECRET")
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("server.base_url", "APP_BASE_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate OpenAI credentials
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.OpenAI.MaxRetries < 0 {
		return fmt.Errorf("openai.max_retries must not be negative")
	}

	if c.Extraction.MaxPromptChars <= 0 {
		return fmt.Errorf("extraction.max_prompt_chars must be positive")
	}

	if c.Policy.RulesPath == "" {
		return fmt.Errorf("policy.rules_path is required")
	}

	// Every tier needs somebody to ask
	if c.Approvers.Fallback.Email == "" {
		for tier, a := range map[string]entity.Approver{
			"manager":         c.Approvers.Manager,
			"finance_manager": c.Approvers.FinanceManager,
			"executive":       c.Approvers.Executive,
		} {
			if a.Email == "" {
				return fmt.Errorf("approvers.%s.email or approvers.fallback.email is required", tier)
			}
		}
	}

	if c.Email.SendGridAPIKey != "" && c.Email.FromEmail == "" {
		return fmt.Errorf("email.from_email is required when sendgrid is configured")
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	if len(c.Security.AppSecret) < 16 {
		return fmt.Errorf("security.app_secret must be at least 16 characters")
	}
	if c.Security.LinkTTL < 0 {
		return fmt.Errorf("security.link_ttl must not be negative")
	}

	return nil
}
