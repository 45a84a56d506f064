// Package entitlement implements the entitlement evaluator:
// given (tenant, feature) it returns allow/deny, consulting per-plan limits,
// live row counts for quota-limited features, and the tenant's active flag.
package entitlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/appconfig"
)

// Feature names the evaluator understands. Boolean features map directly to
// a PlanLimits field; quota features compare a live count against a limit.
const (
	FeatureConnections = "connections"
	FeatureMCPTools    = "mcp_tools"
	FeatureExportsDay  = "exports_per_day"
)

// Evaluator checks (tenant, feature) against the tenant's plan and live
// usage counts.
type Evaluator struct {
	plans map[string]appconfig.PlanLimits
	db    *sql.DB
}

// New constructs an Evaluator over the configured plan table.
func New(plans map[string]appconfig.PlanLimits, db *sql.DB) *Evaluator {
	return &Evaluator{plans: plans, db: db}
}

// Check reports whether tenant may use feature. Inactive tenants always
// deny, regardless of feature or plan.
func (e *Evaluator) Check(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	active, plan, err := e.tenantPlan(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if !active {
		return false, nil
	}

	limits, ok := e.plans[plan]
	if !ok {
		return false, fmt.Errorf("entitlement: unknown plan %q", plan)
	}

	switch feature {
	case FeatureMCPTools:
		return limits.MCPTools, nil
	case FeatureConnections:
		if limits.MaxConnections < 0 {
			return true, nil
		}
		count, err := e.countConnections(ctx, tenantID)
		if err != nil {
			return false, err
		}
		return count < limits.MaxConnections, nil
	case FeatureExportsDay:
		if limits.MaxExportsPerDay < 0 {
			return true, nil
		}
		count, err := e.countExportsToday(ctx, tenantID)
		if err != nil {
			return false, err
		}
		return count < limits.MaxExportsPerDay, nil
	default:
		return false, fmt.Errorf("entitlement: unknown feature %q", feature)
	}
}

func (e *Evaluator) tenantPlan(ctx context.Context, tenantID uuid.UUID) (active bool, plan string, err error) {
	row := e.db.QueryRowContext(ctx, `SELECT is_active, plan FROM tenants WHERE id = $1`, tenantID)
	if err := row.Scan(&active, &plan); err != nil {
		return false, "", fmt.Errorf("entitlement: load tenant: %w", err)
	}
	return active, plan, nil
}

// countConnections counts live (non-revoked) connection rows, excluding the
// tenant's always-on primary connection from the quota — the core stays
// domain-generic, so "primary" is the tenant's earliest-created live
// connection row rather than a hardcoded ERP name. Only that one row is
// excluded; other connections of the same provider still count.
func (e *Evaluator) countConnections(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	row := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM connections
		WHERE tenant_id = $1 AND status != 'revoked'
		  AND id != (
		    SELECT id FROM connections
		    WHERE tenant_id = $1 AND status != 'revoked'
		    ORDER BY created_at ASC LIMIT 1
		  )`, tenantID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("entitlement: count connections: %w", err)
	}
	return count, nil
}

func (e *Evaluator) countExportsToday(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var count int
	row := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE tenant_id = $1 AND job_type = 'export'
		  AND created_at >= date('now')`, tenantID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("entitlement: count exports: %w", err)
	}
	return count, nil
}
