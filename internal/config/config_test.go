package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
  base_url: https://approvals.example.com
database:
  path: /tmp/test.db
openai:
  api_key: sk-file
  requests_per_second: 2.5
  retry_delay: 250ms
extraction:
  recipient_org: Kaladeofin
approvers:
  manager:
    name: Mia Manager
    email: mia@example.com
  fallback:
    email: approvals@example.com
email:
  brand:
    name: Kaladeofin Finance
security:
  app_secret: 0123456789abcdef0123
  link_ttl: 48h
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "https://approvals.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 2.5, cfg.OpenAI.RequestsPerSecond)
	assert.Equal(t, 250*time.Millisecond, cfg.OpenAI.RetryDelay)
	assert.Equal(t, entity.MaxPromptChars, cfg.Extraction.MaxPromptChars)
	assert.Equal(t, "Kaladeofin", cfg.Extraction.RecipientOrg)
	assert.Equal(t, "configs/policy.yaml", cfg.Policy.RulesPath)
	assert.Equal(t, "Kaladeofin Finance", cfg.Email.Brand.Name)
	assert.Equal(t, 48*time.Hour, cfg.Security.LinkTTL)
	assert.False(t, cfg.Lark.Enabled())

	dir := cfg.Approvers.Directory()
	assert.Equal(t, "mia@example.com", dir.For(entity.TierManager).Email)
	assert.Equal(t, "approvals@example.com", dir.For(entity.TierExecutive).Email)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("APPROVAL_EMAIL", "env-approvals@example.com")
	t.Setenv("APP_BASE_URL", "https://env.example.com")
	t.Setenv("LARK_APP_ID", "cli_a")
	t.Setenv("LARK_APP_SECRET", "lark-secret")
	t.Setenv("SENDGRID_API_KEY", "SG.key")
	t.Setenv("FROM_EMAIL", "noreply@example.com")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "env-approvals@example.com", cfg.Approvers.Fallback.Email)
	assert.Equal(t, "https://env.example.com", cfg.Server.BaseURL)
	assert.True(t, cfg.Lark.Enabled())
	assert.Equal(t, "SG.key", cfg.Email.SendGridAPIKey)
	assert.Equal(t, "noreply@example.com", cfg.Email.FromEmail)
}

func TestRead_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Read(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/invoices.db", cfg.Database.Path)
}

func TestRead_MalformedFile(t *testing.T) {
	_, err := Read(writeConfig(t, "server: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no api key", func(c *Config) { c.OpenAI.APIKey = "" }, "openai.api_key"},
		{"no rules", func(c *Config) { c.Policy.RulesPath = "" }, "policy.rules_path"},
		{"short secret", func(c *Config) { c.Security.AppSecret = "short" }, "security.app_secret"},
		{"negative ttl", func(c *Config) { c.Security.LinkTTL = -time.Second }, "security.link_ttl"},
		{"approver gap", func(c *Config) { c.Approvers.Fallback.Email = "" }, "approvers."},
		{"sendgrid without sender", func(c *Config) { c.Email.SendGridAPIKey = "SG.x" }, "email.from_email"},
		{"half lark", func(c *Config) { c.Lark.AppID = "cli_a" }, "lark.app_id"},
		{
			"every tier staffed",
			func(c *Config) {
				c.Approvers.Fallback.Email = ""
				c.Approvers.FinanceManager.Email = "fm@example.com"
				c.Approvers.Executive.Email = "exec@example.com"
			},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
