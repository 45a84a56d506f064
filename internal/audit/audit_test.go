package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE audit_events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT,
			timestamp DATETIME,
			actor_id TEXT,
			actor_type TEXT,
			category TEXT,
			action TEXT,
			resource_type TEXT,
			resource_id TEXT,
			correlation_id TEXT,
			job_id TEXT,
			payload BLOB,
			status TEXT,
			error_message TEXT
		)`)
	require.NoError(t, err)
	return db
}

func TestAppend_GeneratesCorrelationID(t *testing.T) {
	db := setupDB(t)
	l := New()
	tenantID := uuid.New()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	err = l.Append(context.Background(), tx, Event{
		TenantID: tenantID,
		Category: "tool",
		Action:   "call",
		Status:   "ok",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	page, err := l.List(context.Background(), db, tenantID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.NotEmpty(t, page.Events[0].CorrelationID)
}

func TestList_OrderedDescending(t *testing.T) {
	db := setupDB(t)
	l := New()
	tenantID := uuid.New()

	for i := 0; i < 3; i++ {
		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, l.Append(context.Background(), tx, Event{
			TenantID: tenantID, Category: "turn", Action: "run", Status: "ok",
		}))
		require.NoError(t, tx.Commit())
		time.Sleep(2 * time.Millisecond)
	}

	page, err := l.List(context.Background(), db, tenantID, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	require.False(t, page.HasMore)
	for i := 0; i+1 < len(page.Events); i++ {
		require.True(t, !page.Events[i].Timestamp.Before(page.Events[i+1].Timestamp))
	}
}

func TestSweep_DeletesOldEventsInBatches(t *testing.T) {
	db := setupDB(t)
	l := New()
	tenantID := uuid.New()

	old := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		_, err := db.Exec(`INSERT INTO audit_events
			(id, tenant_id, timestamp, actor_type, category, action, status)
			VALUES (?, ?, ?, 'system', 'job', 'sweep-seed', 'ok')`,
			uuid.NewString(), tenantID, old)
		require.NoError(t, err)
	}

	n, err := l.Sweep(context.Background(), db, time.Now().Add(-7*24*time.Hour), 2)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	page, err := l.List(context.Background(), db, tenantID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Events)
}
