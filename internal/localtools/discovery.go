package localtools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/tool"
)

// connectivityProbe is the cheapest query the SuiteQL endpoint will answer:
// one row from a table every account has.
const connectivityProbe = "SELECT id FROM subsidiary FETCH FIRST 1 ROWS ONLY"

// ConnectivityCheckDefinition verifies the tenant's NetSuite connection is
// alive by running a one-row probe query. The SuiteQL agent reaches for this
// when netsuite_suiteql fails, to distinguish a broken connection from a bad
// query before falling back to the MCP route.
func ConnectivityCheckDefinition(run SuiteQLRunner) tool.Definition {
	return tool.Definition{
		Name:        "netsuite_connectivity_check",
		Description: "Verify the tenant's NetSuite connection is reachable and its credentials are valid.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Timeout: 10_000,
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			_, _, err := run(ctx, tc.TenantID, connectivityProbe)
			if err != nil {
				return map[string]any{"connected": false, "error": err.Error()}, nil
			}
			return map[string]any{"connected": true}, nil
		},
	}
}

// DiscoveryTrigger kicks the tenant's metadata discovery job and returns its
// result summary. Injected so the tool layer stays decoupled from the worker
// scheduler that actually owns job lifecycle bookkeeping.
type DiscoveryTrigger func(ctx context.Context, tenantID uuid.UUID) (map[string]any, error)

// RefreshMetadataDefinition re-runs metadata discovery for the tenant's
// NetSuite account: custom transaction body fields and the customlists their
// SELECT fields draw values from. The SuiteQL agent uses it when a query
// references a custom field the cached metadata doesn't know about.
func RefreshMetadataDefinition(trigger DiscoveryTrigger) tool.Definition {
	return tool.Definition{
		Name:        "netsuite_refresh_metadata",
		Description: "Re-discover the tenant's NetSuite custom fields and custom lists when cached metadata is stale.",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Timeout: 120_000,
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			summary, err := trigger(ctx, tc.TenantID)
			if err != nil {
				return nil, fmt.Errorf("netsuite_refresh_metadata: %w", err)
			}
			return summary, nil
		},
	}
}
