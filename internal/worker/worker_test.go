package worker

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/storage"
	"github.com/aideny-kr/chatcore/internal/tenant"
)

func newTestPool(t *testing.T) *storage.Pool {
	t.Helper()
	pool, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	raw := pool.DB()
	_, err = raw.Exec(`CREATE TABLE jobs (
		id TEXT PRIMARY KEY, tenant_id TEXT, job_type TEXT, status TEXT,
		correlation_id TEXT, connection_id TEXT, parameters TEXT, result_summary TEXT,
		error_message TEXT, started_at DATETIME, completed_at DATETIME,
		created_at DATETIME, updated_at DATETIME
	)`)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE audit_events (
		id TEXT PRIMARY KEY, tenant_id TEXT, timestamp DATETIME, actor_id TEXT,
		actor_type TEXT, category TEXT, action TEXT, resource_type TEXT,
		resource_id TEXT, correlation_id TEXT, job_id TEXT, payload TEXT,
		status TEXT, error_message TEXT
	)`)
	require.NoError(t, err)

	return pool
}

func TestRunJob_RecordsStartAndCompleteAuditEvents(t *testing.T) {
	pool := newTestPool(t)
	sched := NewScheduler(pool, audit.New(), nil, nil)

	tenantID := uuid.New()
	ranWithTenant := false
	job, err := sched.RunJob(context.Background(), "discovery", tenantID, func(ctx context.Context) (map[string]any, error) {
		bound, bindErr := tenant.FromContext(ctx)
		ranWithTenant = bindErr == nil && bound == tenantID.String()
		return map[string]any{"connections_found": 3}, nil
	})
	require.NoError(t, err)
	require.True(t, ranWithTenant)
	require.Equal(t, "succeeded", job.Status)

	var count int
	row := pool.DB().QueryRow(`SELECT COUNT(*) FROM audit_events WHERE job_id = ?`, job.ID)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 2, count) // job.start + job.complete

	var actions []string
	rows, err := pool.DB().Query(`SELECT action FROM audit_events WHERE job_id = ? ORDER BY timestamp ASC`, job.ID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var a string
		require.NoError(t, rows.Scan(&a))
		actions = append(actions, a)
	}
	require.Equal(t, []string{"job.start", "job.complete"}, actions)
}

func TestRunJob_FailureRecordsJobFailedEvent(t *testing.T) {
	pool := newTestPool(t)
	sched := NewScheduler(pool, audit.New(), nil, nil)

	job, err := sched.RunJob(context.Background(), "audit_retention_sweep", uuid.Nil, func(ctx context.Context) (map[string]any, error) {
		return nil, sql.ErrConnDone
	})
	require.Error(t, err)
	require.Equal(t, "failed", job.Status)
	require.NotEmpty(t, job.ErrorMessage)

	var status string
	row := pool.DB().QueryRow(`SELECT status FROM jobs WHERE id = ?`, job.ID)
	require.NoError(t, row.Scan(&status))
	require.Equal(t, "failed", status)

	var action string
	row = pool.DB().QueryRow(`SELECT action FROM audit_events WHERE job_id = ? AND status = 'error'`, job.ID)
	require.NoError(t, row.Scan(&action))
	require.Equal(t, "job.failed", action)
}

func TestAdminRouter_HealthzOK(t *testing.T) {
	pool := newTestPool(t)
	sched := NewScheduler(pool, audit.New(), nil, nil)
	router := sched.AdminRouter()
	require.NotNil(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
