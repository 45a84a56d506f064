// Package audit implements the append-only, tenant-scoped event stream.
// Writes must flush inside the caller's transaction so an
// audit record and the business state it describes either both commit or
// both roll back; reads are paginated and sorted by time descending; a
// background sweeper enforces retention in small batches so it never blocks
// foreground writers.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/model"
)

// Event is the record Append persists. CorrelationID is generated if absent.
type Event struct {
	TenantID      uuid.UUID
	ActorID       *uuid.UUID
	ActorType     string // user | service | system
	Category      string
	Action        string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	JobID         *uuid.UUID
	Payload       map[string]any
	Status        string // ok | denied | timeout | error | fatal | cancelled
	ErrorMessage  string
}

// Log writes and reads AuditEvent rows through a tenant-scoped transaction.
// It has no retry/backoff logic of its own: callers already hold the
// transaction for the surrounding business operation, and a failed audit
// write should fail that operation too.
type Log struct{}

// New constructs an audit Log. It holds no state; every call takes the
// transaction it should write through explicitly.
func New() *Log { return &Log{} }

// timeSortableID mimics a ULID-style monotonic identifier (time-sortable,
//) without pulling in a ULID library the example pack never
// uses: a millisecond timestamp prefix plus a random UUID suffix, both
// encoded so that lexical sort order equals chronological order.
func timeSortableID(now time.Time) string {
	return fmt.Sprintf("%020d-%s", now.UTC().UnixMilli(), uuid.New().String())
}

// Append inserts one audit event inside tx. If ev.CorrelationID is empty, one
// is generated so every tool/turn invocation still gets a traceable id.
func (l *Log) Append(ctx context.Context, tx *sql.Tx, ev Event) error {
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}
	now := time.Now()
	id := timeSortableID(now)

	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, tenant_id, timestamp, actor_id, actor_type, category, action,
			 resource_type, resource_id, correlation_id, job_id, payload, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, ev.TenantID, now, nullableUUID(ev.ActorID), ev.ActorType, ev.Category, ev.Action,
		ev.ResourceType, ev.ResourceID, ev.CorrelationID, nullableUUID(ev.JobID), payload,
		ev.Status, ev.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Page is one page of a tenant's audit log, newest first.
type Page struct {
	Events     []model.AuditEvent
	NextOffset int
	HasMore    bool
}

// List returns a tenant's audit events, most recent first, paginated.
func (l *Log) List(ctx context.Context, db *sql.DB, tenantID uuid.UUID, offset, limit int) (*Page, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, timestamp, actor_id, actor_type, category, action,
		       resource_type, resource_id, correlation_id, job_id, payload, status, error_message
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`, tenantID, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var (
			ev      model.AuditEvent
			idStr   string
			payload []byte
		)
		if err := rows.Scan(&idStr, &ev.TenantID, &ev.Timestamp, &ev.ActorID, &ev.ActorType,
			&ev.Category, &ev.Action, &ev.ResourceType, &ev.ResourceID, &ev.CorrelationID,
			&ev.JobID, &payload, &ev.Status, &ev.ErrorMessage); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		ev.Payload, err = unmarshalPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("audit: unmarshal payload: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return &Page{Events: events, NextOffset: offset + len(events), HasMore: hasMore}, nil
}

// Sweep deletes audit events older than olderThan, in batches of batchSize,
// committing between batches so the sweeper never holds a long-lived lock
// that starves foreground writers.
func (l *Log) Sweep(ctx context.Context, db *sql.DB, olderThan time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	total := 0
	for {
		res, err := db.ExecContext(ctx, `
			DELETE FROM audit_events
			WHERE id IN (
				SELECT id FROM audit_events WHERE timestamp < $1 LIMIT $2
			)`, olderThan, batchSize)
		if err != nil {
			return total, fmt.Errorf("audit: sweep batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("audit: sweep rows affected: %w", err)
		}
		total += int(n)
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
