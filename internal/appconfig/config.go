// Package appconfig loads the orchestration core's configuration from a
// YAML file (with environment variable expansion and optional hot-reload)
// through a load->parse->expand->decode->default->validate pipeline.
package appconfig

import (
	"fmt"
	"time"
)

// Config is the root configuration document for the chatcore service.
type Config struct {
	Server       ServerConfig              `yaml:"server" mapstructure:"server"`
	Log          LogConfig                 `yaml:"log" mapstructure:"log"`
	Database     DatabaseConfig            `yaml:"database" mapstructure:"database"`
	Vault        VaultConfig               `yaml:"vault" mapstructure:"vault"`
	LLMProviders map[string]LLMConfig      `yaml:"llm_providers" mapstructure:"llm_providers"`
	VectorStore  VectorStoreConfig         `yaml:"vector_store" mapstructure:"vector_store"`
	RateLimit    RateLimitConfig           `yaml:"rate_limit" mapstructure:"rate_limit"`
	Billing      BillingConfig             `yaml:"billing" mapstructure:"billing"`
	Plans        map[string]PlanLimits     `yaml:"plans" mapstructure:"plans"`
	Specialists  SpecialistsConfig         `yaml:"specialists" mapstructure:"specialists"`
	Observability ObservabilityConfig      `yaml:"observability" mapstructure:"observability"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json | text
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"` // postgres | mysql | sqlite3
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

// VaultConfig carries the active and historical AES-GCM keys used to seal
// connection/connector credentials. Keys are versioned so a rotation never
// invalidates previously-sealed ciphertext; see internal/vault.
type VaultConfig struct {
	ActiveKeyVersion int               `yaml:"active_key_version" mapstructure:"active_key_version"`
	Keys             map[int]string    `yaml:"keys" mapstructure:"keys"` // version -> base64(32-byte key)
}

type LLMConfig struct {
	Type        string        `yaml:"type" mapstructure:"type"` // anthropic | openai | gemini
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type VectorStoreConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // chromem | qdrant | pinecone
	Collection string `yaml:"collection" mapstructure:"collection"`
	Host       string `yaml:"host" mapstructure:"host"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Dimension  int    `yaml:"dimension" mapstructure:"dimension"`
}

type RateLimitConfig struct {
	DefaultRequestsPerMinute int `yaml:"default_requests_per_minute" mapstructure:"default_requests_per_minute"`
	DefaultBurst             int `yaml:"default_burst" mapstructure:"default_burst"`
}

type BillingConfig struct {
	SynthesisModelSetting string        `yaml:"synthesis_model_setting" mapstructure:"synthesis_model_setting"`
	ReconcileInterval      time.Duration `yaml:"reconcile_interval" mapstructure:"reconcile_interval"`
	AuditRetentionDays    int           `yaml:"audit_retention_days" mapstructure:"audit_retention_days"`
}

// PlanLimits mirrors the original PLAN_LIMITS table: per-plan ceilings on
// connections, MCP tool access, and daily exports.
type PlanLimits struct {
	MaxConnections   int  `yaml:"max_connections" mapstructure:"max_connections"`
	MCPTools         bool `yaml:"mcp_tools" mapstructure:"mcp_tools"`
	MaxExportsPerDay int  `yaml:"max_exports_per_day" mapstructure:"max_exports_per_day"` // -1 = unlimited
}

type SpecialistsConfig struct {
	SuiteQLMaxSteps   int `yaml:"suiteql_max_steps" mapstructure:"suiteql_max_steps"`
	RAGMaxSteps       int `yaml:"rag_max_steps" mapstructure:"rag_max_steps"`
	WorkspaceMaxSteps int `yaml:"workspace_max_steps" mapstructure:"workspace_max_steps"`
	AnalysisMaxSteps  int `yaml:"analysis_max_steps" mapstructure:"analysis_max_steps"`
}

type ObservabilityConfig struct {
	MetricsAddr    string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// SetDefaults fills unset fields with sane production defaults as the last
// step of the load pipeline.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxOpenConns == 0 {
		if c.Database.Driver == "sqlite3" {
			c.Database.MaxOpenConns = 1
		} else {
			c.Database.MaxOpenConns = 20
		}
	}
	if c.Vault.ActiveKeyVersion == 0 {
		c.Vault.ActiveKeyVersion = 1
	}
	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chromem"
	}
	if c.VectorStore.Dimension == 0 {
		c.VectorStore.Dimension = 1536
	}
	if c.RateLimit.DefaultRequestsPerMinute == 0 {
		c.RateLimit.DefaultRequestsPerMinute = 60
	}
	if c.RateLimit.DefaultBurst == 0 {
		c.RateLimit.DefaultBurst = 10
	}
	if c.Billing.ReconcileInterval == 0 {
		c.Billing.ReconcileInterval = time.Hour
	}
	if c.Billing.AuditRetentionDays == 0 {
		c.Billing.AuditRetentionDays = 90
	}
	if c.Plans == nil {
		c.Plans = map[string]PlanLimits{
			"trial":      {MaxConnections: 2, MCPTools: false, MaxExportsPerDay: 10},
			"pro":        {MaxConnections: 50, MCPTools: true, MaxExportsPerDay: 1000},
			"enterprise": {MaxConnections: 500, MCPTools: true, MaxExportsPerDay: -1},
		}
	}
	if c.Specialists.SuiteQLMaxSteps == 0 {
		c.Specialists.SuiteQLMaxSteps = 4
	}
	if c.Specialists.RAGMaxSteps == 0 {
		c.Specialists.RAGMaxSteps = 2
	}
	if c.Specialists.WorkspaceMaxSteps == 0 {
		c.Specialists.WorkspaceMaxSteps = 5
	}
	if c.Specialists.AnalysisMaxSteps == 0 {
		c.Specialists.AnalysisMaxSteps = 1
	}
	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = ":9090"
	}
}

// Validate checks the config for internal consistency after defaults have
// been applied. It is intentionally strict: a misconfigured vault key or
// unknown LLM provider type should fail startup, not surface later as a
// confusing runtime error mid-turn.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if _, ok := c.Vault.Keys[c.Vault.ActiveKeyVersion]; !ok {
		return fmt.Errorf("vault.keys has no entry for active_key_version %d", c.Vault.ActiveKeyVersion)
	}

	for name, llmCfg := range c.LLMProviders {
		switch llmCfg.Type {
		case "anthropic", "openai", "gemini":
		default:
			return fmt.Errorf("llm_providers.%s: unsupported type %q", name, llmCfg.Type)
		}
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "pinecone":
	default:
		return fmt.Errorf("vector_store.provider %q is not supported", c.VectorStore.Provider)
	}

	return nil
}
