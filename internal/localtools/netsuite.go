package localtools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/httpclient"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/tool"
	"github.com/aideny-kr/chatcore/internal/vault"
)

// ConnectionStore is the narrow read slice of tenant connection storage the
// NetSuite executors need: the tenant's single active "netsuite" connection
// row, sealed credentials and all, so Decrypt can run lazily per-call rather
// than holding a live token in memory between turns.
type ConnectionStore interface {
	GetConnectionByProvider(ctx context.Context, tenantID uuid.UUID, provider string) (*model.Connection, error)
}

// SuiteQLRunner executes one SuiteQL query against a tenant's NetSuite
// account and returns the result rows. Shared by the netsuite_suiteql tool,
// the connectivity check, and the metadata discovery job.
type SuiteQLRunner func(ctx context.Context, tenantID uuid.UUID, query string) (rows []map[string]any, total int, err error)

// NewSuiteQLRunner builds a SuiteQLRunner over the tenant's stored
// connection: resolve the active netsuite connection, decrypt its
// credentials, and POST the query to the account's SuiteQL REST endpoint.
func NewSuiteQLRunner(store ConnectionStore, v *vault.Vault, client *httpclient.Client) SuiteQLRunner {
	return func(ctx context.Context, tenantID uuid.UUID, query string) ([]map[string]any, int, error) {
		conn, err := store.GetConnectionByProvider(ctx, tenantID, "netsuite")
		if err != nil {
			return nil, 0, fmt.Errorf("resolve connection: %w", err)
		}

		creds, err := v.Decrypt(conn.EncryptedCredentials)
		if err != nil {
			return nil, 0, fmt.Errorf("decrypt credentials: %w", err)
		}
		accountID := creds["account_id"]
		token := creds["access_token"]
		if accountID == "" || token == "" {
			return nil, 0, fmt.Errorf("connection is missing account_id or access_token")
		}

		url := fmt.Sprintf("https://%s.suitetalk.api.netsuite.com/services/rest/query/v1/suiteql", strings.ToLower(accountID))
		body, err := json.Marshal(map[string]string{"q": query})
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "transient")
		req.Header.Set("Authorization", "Bearer "+token)

		respBody, status, err := client.PostJSON(req, body)
		if err != nil {
			return nil, 0, fmt.Errorf("request: %w", err)
		}
		if status >= 400 {
			return nil, 0, fmt.Errorf("account returned status %d: %s", status, truncate(string(respBody), 500))
		}

		var decoded struct {
			Items        []map[string]any `json:"items"`
			TotalResults int              `json:"totalResults"`
		}
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, 0, fmt.Errorf("unmarshal response: %w", err)
		}
		return decoded.Items, decoded.TotalResults, nil
	}
}

// NetSuiteSuiteQLDefinition executes a SuiteQL query against the tenant's
// configured NetSuite account via its SuiteQL REST endpoint. Read-only by
// construction — SuiteQL has no DML surface.
func NetSuiteSuiteQLDefinition(store ConnectionStore, v *vault.Vault, client *httpclient.Client) tool.Definition {
	run := NewSuiteQLRunner(store, v, client)
	return tool.Definition{
		Name:        "netsuite_suiteql",
		Description: "Run a read-only SuiteQL query against the tenant's NetSuite account.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
		Timeout: 20_000,
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("netsuite_suiteql: query is required")
			}
			if !looksReadOnly(query) {
				return nil, fmt.Errorf("netsuite_suiteql: only SELECT statements are permitted")
			}
			rows, total, err := run(ctx, tc.TenantID, query)
			if err != nil {
				return nil, fmt.Errorf("netsuite_suiteql: %w", err)
			}
			return map[string]any{"rows": rows, "total": total}, nil
		},
	}
}

// looksReadOnly is a belt-and-suspenders client-side check. Upstream of this
// executor, internal/policy enforces the active policy profile's blocked
// fields and, when require_row_limit is set, its max_rows_per_query cap; it
// does not evaluate read_only_mode.
func looksReadOnly(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
