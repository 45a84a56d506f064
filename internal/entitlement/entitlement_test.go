package entitlement

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/appconfig"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
		CREATE TABLE tenants (id TEXT PRIMARY KEY, is_active BOOLEAN, plan TEXT);
		CREATE TABLE connections (id TEXT PRIMARY KEY, tenant_id TEXT, status TEXT, created_at DATETIME);
		CREATE TABLE jobs (id TEXT PRIMARY KEY, tenant_id TEXT, job_type TEXT, created_at DATETIME);
	`)
	require.NoError(t, err)
	return db
}

var plans = map[string]appconfig.PlanLimits{
	"trial": {MaxConnections: 2, MCPTools: false, MaxExportsPerDay: 10},
	"pro":   {MaxConnections: 50, MCPTools: true, MaxExportsPerDay: 1000},
}

func TestCheck_InactiveTenantAlwaysDenies(t *testing.T) {
	db := setupDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenants (id, is_active, plan) VALUES (?, 0, 'pro')`, tenantID)
	require.NoError(t, err)

	e := New(plans, db)
	allowed, err := e.Check(context.Background(), tenantID, FeatureMCPTools)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheck_BooleanFeature(t *testing.T) {
	db := setupDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenants (id, is_active, plan) VALUES (?, 1, 'trial')`, tenantID)
	require.NoError(t, err)

	e := New(plans, db)
	allowed, err := e.Check(context.Background(), tenantID, FeatureMCPTools)
	require.NoError(t, err)
	assert.False(t, allowed) // trial has MCPTools=false

	tenantID2 := uuid.New()
	_, err = db.Exec(`INSERT INTO tenants (id, is_active, plan) VALUES (?, 1, 'pro')`, tenantID2)
	require.NoError(t, err)
	allowed, err = e.Check(context.Background(), tenantID2, FeatureMCPTools)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheck_QuotaFeatureCountsLiveRows(t *testing.T) {
	db := setupDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenants (id, is_active, plan) VALUES (?, 1, 'trial')`, tenantID)
	require.NoError(t, err)

	now := time.Now()
	// Primary connector (earliest) is excluded from the quota count.
	_, err = db.Exec(`INSERT INTO connections (id, tenant_id, status, created_at) VALUES (?, ?, 'active', ?)`,
		uuid.NewString(), tenantID, now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO connections (id, tenant_id, status, created_at) VALUES (?, ?, 'active', ?)`,
		uuid.NewString(), tenantID, now)
	require.NoError(t, err)

	e := New(plans, db)
	// trial allows MaxConnections=2 non-primary; we have 1 non-primary so far.
	allowed, err := e.Check(context.Background(), tenantID, FeatureConnections)
	require.NoError(t, err)
	assert.True(t, allowed)
}
