// Package worker runs the background jobs the chat core needs outside the
// request path: a scheduled wallet-reconciliation sweep, a
// scheduled audit-retention sweep, and on-demand connection discovery jobs
// triggered from the admin surface. Every job binds its tenant context
// before issuing a single tenant-scoped read, records a model.Job row, and
// emits job.start/job.complete/job.failed audit events around every
// long-running unit of work.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/observability"
	"github.com/aideny-kr/chatcore/internal/storage"
	"github.com/aideny-kr/chatcore/internal/tenant"
	"github.com/aideny-kr/chatcore/internal/wallet"
)

// Job is one named unit of background work. Run reads its tenant from the
// context RunJob bound (tenant.FromContext); a job run with uuid.Nil gets no
// bound tenant and is cross-tenant (reconciliation and the retention sweep
// both iterate every tenant internally instead of being handed one).
type Job struct {
	Name string
	Run  func(ctx context.Context) (summary map[string]any, err error)
}

// Scheduler owns the recurring jobs and the on-demand trigger surface. It
// holds no goroutines of its own until Start is called.
type Scheduler struct {
	Pool     *storage.Pool
	AuditLog *audit.Log
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	ReconcileInterval time.Duration
	RetentionSweep    time.Duration
	RetentionDays     int
	Meter             wallet.ExternalMeter

	onDemand map[string]Job
	cancel   context.CancelFunc
}

// NewScheduler wires a Scheduler with its two built-in scheduled jobs
// (reconciliation, retention sweep) and no on-demand jobs; RegisterOnDemand
// adds jobs the admin surface can trigger.
func NewScheduler(pool *storage.Pool, auditLog *audit.Log, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Pool:     pool,
		AuditLog: auditLog,
		Metrics:  metrics,
		Logger:   logger,
		onDemand: make(map[string]Job),
	}
}

// RegisterOnDemand adds a job the admin surface can trigger by name (e.g.
// per-tenant connection discovery). It does not run on a schedule.
func (s *Scheduler) RegisterOnDemand(job Job) {
	s.onDemand[job.Name] = job
}

// Start launches the two scheduled jobs as background goroutines. It
// returns immediately; call Stop (or cancel ctx) to end them.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = time.Hour
	}
	if s.RetentionSweep <= 0 {
		s.RetentionSweep = 24 * time.Hour
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 90
	}

	go s.runOnSchedule(ctx, "wallet_reconciliation", s.ReconcileInterval, s.reconcileJob)
	go s.runOnSchedule(ctx, "audit_retention_sweep", s.RetentionSweep, s.retentionJob)
}

// Stop ends both scheduled loops. Safe to call even if Start was never
// called.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) runOnSchedule(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context) (map[string]any, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunJob(ctx, name, uuid.Nil, fn); err != nil {
				s.Logger.Error("worker: scheduled job failed", "job", name, "error", err)
			}
		}
	}
}

// reconcileJob is not tenant-scoped: it sweeps every wallet in one pass, so
// it binds no single tenant and instead relies on ReconcileWatermarks'
// cross-tenant query.
func (s *Scheduler) reconcileJob(ctx context.Context) (map[string]any, error) {
	if s.Meter == nil {
		return map[string]any{"skipped": "no external meter configured"}, nil
	}
	reconciled, failed, err := wallet.ReconcileWatermarks(ctx, s.Pool.DB(), s.Meter)
	return map[string]any{"reconciled": reconciled, "failed": failed}, err
}

func (s *Scheduler) retentionJob(ctx context.Context) (map[string]any, error) {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)
	deleted, err := s.AuditLog.Sweep(ctx, s.Pool.DB(), cutoff, 500)
	return map[string]any{"deleted": deleted, "cutoff": cutoff}, err
}

// RunJob executes one job's body under full lifecycle bookkeeping: it
// records a model.Job row, binds the tenant (when tenantID is non-nil),
// emits job.start up front and job.complete/job.failed at the end, and
// returns whatever error the job body produced. A tenantID of uuid.Nil
// means the job is cross-tenant and no tenant context is bound.
func (s *Scheduler) RunJob(ctx context.Context, jobType string, tenantID uuid.UUID, fn func(ctx context.Context) (map[string]any, error)) (*model.Job, error) {
	job := &model.Job{
		ID:        uuid.New(),
		TenantID:  tenantID,
		JobType:   jobType,
		Status:    "running",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	started := time.Now()
	job.StartedAt = &started

	runCtx := ctx
	if tenantID != uuid.Nil {
		bound, err := tenant.Bind(ctx, tenantID.String())
		if err != nil {
			return nil, fmt.Errorf("worker: bind tenant: %w", err)
		}
		runCtx = bound
	}

	if err := s.recordJobStart(ctx, job); err != nil {
		s.Logger.Warn("worker: failed to persist job start", "job", jobType, "error", err)
	}

	summary, runErr := fn(runCtx)

	completed := time.Now()
	job.CompletedAt = &completed
	job.ResultSummary = summary
	if runErr != nil {
		job.Status = "failed"
		job.ErrorMessage = runErr.Error()
	} else {
		job.Status = "succeeded"
	}

	if err := s.recordJobComplete(ctx, job); err != nil {
		s.Logger.Warn("worker: failed to persist job completion", "job", jobType, "error", err)
	}

	if s.Metrics != nil {
		status := "ok"
		if runErr != nil {
			status = "error"
		}
		s.Metrics.ObserveJob(jobType, status, time.Since(started))
	}

	return job, runErr
}

func (s *Scheduler) recordJobStart(ctx context.Context, job *model.Job) error {
	db := s.Pool.DB()
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, job_type, status, parameters, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, nullableTenant(job.TenantID), job.JobType, job.Status, params, job.StartedAt, job.CreatedAt, job.UpdatedAt,
	); err != nil {
		return fmt.Errorf("worker: insert job: %w", err)
	}

	if s.AuditLog == nil {
		return nil
	}
	return s.withAuditOnlyTx(ctx, job.TenantID, func(tx *sql.Tx) error {
		return s.AuditLog.Append(ctx, tx, audit.Event{
			TenantID:     job.TenantID,
			ActorType:    "system",
			Category:     "job",
			Action:       "job.start",
			ResourceType: "job",
			ResourceID:   job.ID.String(),
			JobID:        &job.ID,
			Status:       "ok",
			Payload:      map[string]any{"job_type": job.JobType},
		})
	})
}

func (s *Scheduler) recordJobComplete(ctx context.Context, job *model.Job) error {
	db := s.Pool.DB()
	result, err := json.Marshal(job.ResultSummary)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, result_summary = $2, error_message = $3, completed_at = $4, updated_at = $5
		WHERE id = $6`,
		job.Status, result, job.ErrorMessage, job.CompletedAt, time.Now(), job.ID,
	); err != nil {
		return fmt.Errorf("worker: update job: %w", err)
	}

	if s.AuditLog == nil {
		return nil
	}
	action, status := "job.complete", "ok"
	if job.Status == "failed" {
		action, status = "job.failed", "error"
	}
	return s.withAuditOnlyTx(ctx, job.TenantID, func(tx *sql.Tx) error {
		return s.AuditLog.Append(ctx, tx, audit.Event{
			TenantID:     job.TenantID,
			ActorType:    "system",
			Category:     "job",
			Action:       action,
			ResourceType: "job",
			ResourceID:   job.ID.String(),
			JobID:        &job.ID,
			Status:       status,
			ErrorMessage: job.ErrorMessage,
			Payload:      map[string]any{"job_type": job.JobType, "result": job.ResultSummary},
		})
	})
}

// withAuditOnlyTx writes a single audit event in its own short transaction.
// Scheduled jobs have no surrounding business transaction to piggyback on
// (unlike a chat turn's tool calls), so each lifecycle event commits on its
// own; a cross-tenant job (tenantID == uuid.Nil) still needs a real
// transaction to satisfy audit.Log.Append's signature, so it opens one
// directly against the pool rather than through BeginTenantTx.
func (s *Scheduler) withAuditOnlyTx(ctx context.Context, tenantID uuid.UUID, fn func(tx *sql.Tx) error) error {
	var tx *sql.Tx
	var err error
	if tenantID != uuid.Nil {
		scoped, bErr := s.Pool.BeginTenantTx(ctx, tenantID.String())
		if bErr != nil {
			return bErr
		}
		tx = scoped.Tx
	} else {
		tx, err = s.Pool.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullableTenant(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// AdminRouter builds the thin chi control surface: a liveness check and a
// by-name job trigger. This is the one HTTP router in the codebase that is
// not chat request routing — it exists purely for ops to kick an on-demand
// job or a scheduled one out of band.
func (s *Scheduler) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/jobs/{name}/trigger", s.handleTrigger)
	return r
}

func (s *Scheduler) handleTrigger(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")

	var body struct {
		TenantID string `json:"tenant_id"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	var tenantID uuid.UUID
	if body.TenantID != "" {
		parsed, err := uuid.Parse(body.TenantID)
		if err != nil {
			http.Error(w, "invalid tenant_id", http.StatusBadRequest)
			return
		}
		tenantID = parsed
	}

	job, err := s.trigger(req.Context(), name, tenantID)
	if err != nil {
		if errors.Is(err, errUnknownJob) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(job)
}

var errUnknownJob = errors.New("worker: unknown job name")

func (s *Scheduler) trigger(ctx context.Context, name string, tenantID uuid.UUID) (*model.Job, error) {
	switch name {
	case "wallet_reconciliation":
		return s.RunJob(ctx, name, uuid.Nil, s.reconcileJob)
	case "audit_retention_sweep":
		return s.RunJob(ctx, name, uuid.Nil, s.retentionJob)
	}
	if job, ok := s.onDemand[name]; ok {
		return s.RunJob(ctx, name, tenantID, job.Run)
	}
	return nil, errUnknownJob
}
