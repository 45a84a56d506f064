// Package tool implements the governed tool-call substrate:
// a single registry for local, in-process tools and per-tenant remote tools
// reached over internal/mcpclient, wrapped by a seven-step governance
// pipeline (allow-list, rate limit, policy, timeout, redact, audit, metrics)
// on every invocation.
package tool

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/registry"
)

// Context carries everything a local executor needs: the DB session it must
// use for tenant-scoped queries, the acting tenant/user, and the
// correlation id to thread into audit/logging. Remote executors never
// receive this — they only see the call's params.
type Context struct {
	Tx            *sql.Tx
	TenantID      uuid.UUID
	ActorID       uuid.UUID
	CorrelationID string
}

// Result is what every executor returns: a payload plus an error. Dispatch
// wraps this with governance metadata (duration, status) before handing it
// back to the calling agent.
type Result struct {
	Payload any
	Err     error
}

// LocalExecutor is an in-process tool implementation.
type LocalExecutor func(ctx context.Context, tc Context, params map[string]any) (any, error)

// Definition is everything the registry needs about one local tool: its
// executor, its configured timeout, and the JSON Schema describing its
// parameters (surfaced to agents via internal/llm.ToolDefinition).
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
	Timeout     int64 // milliseconds
	Execute     LocalExecutor
}

// Registry holds every local tool definition, keyed by name.
type Registry struct {
	*registry.BaseRegistry[Definition]
}

// NewRegistry constructs an empty local tool registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Definition]()}
}

// remoteToolPrefix is the synthetic naming scheme for tools reached through
// a tenant's MCP connector: ext__{connector_id}__{name}.
const remoteToolPrefix = "ext__"

// IsRemoteToolName reports whether name follows the ext__{connector}__{tool}
// synthetic naming scheme.
func IsRemoteToolName(name string) bool {
	return strings.HasPrefix(name, remoteToolPrefix)
}

// ParseRemoteToolName splits a synthetic remote tool name into its connector
// id and the underlying tool name the remote server knows it by.
func ParseRemoteToolName(name string) (connectorID, toolName string, ok bool) {
	if !IsRemoteToolName(name) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, remoteToolPrefix)
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
