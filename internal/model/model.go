// Package model defines the entity types shared across the orchestration
// core: tenants, users, connections, wallets, policy profiles, audit events,
// and the chat transcript itself. These mirror the relational schema the
// core persists to (see internal/storage), not a wire protocol — handlers
// translate to/from these as needed.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a single customer organization. Every tenant-scoped table carries
// a tenant_id foreign key back to this row, and internal/storage enforces
// row-level isolation on top of it.
type Tenant struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Plan          string     `json:"plan"` // trial | pro | enterprise
	PlanExpiresAt *time.Time `json:"plan_expires_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// User is a human or service actor within a tenant.
type User struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	FullName       string    `json:"full_name"`
	ActorType      string    `json:"actor_type"` // user | service
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role and Permission back a conventional RBAC graph; UserRole assigns a
// role to a user within a tenant.
type Role struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Permission struct {
	ID       uuid.UUID `json:"id"`
	Codename string    `json:"codename"`
}

type UserRole struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	UserID    uuid.UUID `json:"user_id"`
	RoleID    uuid.UUID `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Connection is a tenant's credential-bearing link to an upstream system
// (NetSuite, Shopify, Stripe). Credentials are stored encrypted; see
// internal/vault for the envelope format.
type Connection struct {
	ID                    uuid.UUID      `json:"id"`
	TenantID              uuid.UUID      `json:"tenant_id"`
	Provider              string         `json:"provider"` // shopify | stripe | netsuite
	Label                 string         `json:"label"`
	Status                string         `json:"status"`
	EncryptedCredentials  string         `json:"-"`
	EncryptionKeyVersion  int            `json:"encryption_key_version"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	CreatedBy             *uuid.UUID     `json:"created_by,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// McpConnector is a tenant-registered remote MCP tool server. Its discovered
// tools are synthesized into the governed tool registry under names of the
// form ext__{connector_id}__{original_name}.
type McpConnector struct {
	ID                   uuid.UUID      `json:"id"`
	TenantID             uuid.UUID      `json:"tenant_id"`
	Provider             string         `json:"provider"`
	Label                string         `json:"label"`
	ServerURL            string         `json:"server_url"`
	AuthType             string         `json:"auth_type"` // bearer | api_key | oauth2 | none
	EncryptedCredentials string         `json:"-"`
	EncryptionKeyVersion int            `json:"encryption_key_version"`
	Status               string         `json:"status"`
	DiscoveredTools      map[string]any `json:"discovered_tools,omitempty"`
	IsEnabled            bool           `json:"is_enabled"`
	CreatedBy            *uuid.UUID     `json:"created_by,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// TenantWallet is the metered-billing ledger described in the tollbooth
// design: a base credit allowance that resets each billing period, and an
// overage counter that spills into once the base is exhausted.
type TenantWallet struct {
	ID                         uuid.UUID `json:"id"`
	TenantID                   uuid.UUID `json:"tenant_id"`
	StripeCustomerID           *string   `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionItemID   *string   `json:"stripe_subscription_item_id,omitempty"`
	BillingPeriodStart         time.Time `json:"billing_period_start"`
	BillingPeriodEnd           time.Time `json:"billing_period_end"`
	BaseCreditsRemaining       int       `json:"base_credits_remaining"`
	MeteredCreditsUsed         int       `json:"metered_credits_used"`
	LastSyncedMeteredCredits   int       `json:"last_synced_metered_credits"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// PolicyProfile is a versioned, tenant-scoped governance policy consulted by
// the governed tool dispatcher on every tool call.
type PolicyProfile struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID             uuid.UUID  `json:"tenant_id"`
	Version              int        `json:"version"`
	Name                  string     `json:"name"`
	IsActive              bool       `json:"is_active"`
	IsLocked              bool       `json:"is_locked"`
	SensitivityDefault    string     `json:"sensitivity_default"`
	ReadOnlyMode          bool       `json:"read_only_mode"`
	AllowedRecordTypes    []string   `json:"allowed_record_types,omitempty"`
	BlockedFields         []string   `json:"blocked_fields,omitempty"`
	ToolAllowlist         []string   `json:"tool_allowlist,omitempty"`
	MaxRowsPerQuery       int        `json:"max_rows_per_query"`
	RequireRowLimit       bool       `json:"require_row_limit"`
	CustomRules           []string   `json:"custom_rules,omitempty"`
	CreatedBy             *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// AuditEvent is an append-only record of a governed action. Writes are
// insert-only; see internal/audit.
type AuditEvent struct {
	ID            int64          `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	Timestamp     time.Time      `json:"timestamp"`
	ActorID       *uuid.UUID     `json:"actor_id,omitempty"`
	ActorType     string         `json:"actor_type"`
	Category      string         `json:"category"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	JobID         *uuid.UUID     `json:"job_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// Job is a background worker unit (reconciliation sync, export, Stripe
// usage push). See internal/worker.
type Job struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	JobType        string         `json:"job_type"`
	Status         string         `json:"status"` // pending | running | succeeded | failed
	CorrelationID  string         `json:"correlation_id,omitempty"`
	ConnectionID   *uuid.UUID     `json:"connection_id,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	ResultSummary  map[string]any `json:"result_summary,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TenantEntityMapping maps a natural-language term a tenant's users type
// ("inventory processor") to the internal script id a tool call needs
// ("customrecord_r_inv_processor"). Looked up by trigram similarity; see
// internal/vernacular.
type TenantEntityMapping struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	EntityType  string    `json:"entity_type"`
	NaturalName string    `json:"natural_name"`
	ScriptID    string    `json:"script_id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TenantLearnedRule is a standing business-logic correction a user taught
// the assistant ("'failed' means status=3 AND has_error=T"), injected into
// future prompts. See internal/memory.
type TenantLearnedRule struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	RuleCategory    string     `json:"rule_category,omitempty"`
	RuleDescription string     `json:"rule_description"`
	IsActive        bool       `json:"is_active"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ChatSession groups a user's conversation with the assistant.
type ChatSession struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title,omitempty"`
	SessionType string     `json:"session_type"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	IsArchived  bool       `json:"is_archived"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ChatMessage is one turn of a ChatSession's transcript. ToolCalls and
// Citations carry structured metadata produced by the turn runner;
// token/model/provider fields support per-message cost attribution.
type ChatMessage struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      uuid.UUID      `json:"tenant_id"`
	SessionID     uuid.UUID      `json:"session_id"`
	Role          string         `json:"role"` // user | assistant | system
	Content       string         `json:"content"`
	ToolCalls     []ToolCallLog  `json:"tool_calls,omitempty"`
	Citations     []Citation     `json:"citations,omitempty"`
	TokenCount    *int           `json:"token_count,omitempty"`
	InputTokens   *int           `json:"input_tokens,omitempty"`
	OutputTokens  *int           `json:"output_tokens,omitempty"`
	ModelUsed     string         `json:"model_used,omitempty"`
	ProviderUsed  string         `json:"provider_used,omitempty"`
	IsBYOK        bool           `json:"is_byok"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ToolCallLog records a single governed tool invocation attached to an
// assistant message, for transcript replay and audit cross-reference.
type ToolCallLog struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Result     any            `json:"result,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Citation is a pointer back to a retrieved document chunk or row set that
// grounded part of an assistant's answer.
type Citation struct {
	SourceType string `json:"source_type"` // doc_chunk | db_row | domain_knowledge
	SourceID   string `json:"source_id"`
	Title      string `json:"title,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// DocChunk is a tenant-scoped ingested document fragment used for RAG
// retrieval (the specialist RAG agent; internal/retriever).
type DocChunk struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	SourcePath string         `json:"source_path"`
	Title      string         `json:"title"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	TokenCount int            `json:"token_count"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DomainKnowledgeChunk is curated, non-tenant-scoped expert knowledge (e.g.
// SuiteQL join patterns) injected into specialist agent prompts just-in-time.
type DomainKnowledgeChunk struct {
	ID            uuid.UUID `json:"id"`
	SourceURI     string    `json:"source_uri"`
	ChunkIndex    int       `json:"chunk_index"`
	RawText       string    `json:"raw_text"`
	TokenCount    int       `json:"token_count"`
	Embedding     []float32 `json:"-"`
	TopicTags     []string  `json:"topic_tags,omitempty"`
	SourceType    string    `json:"source_type"`
	IsDeprecated  bool      `json:"is_deprecated"`
}
