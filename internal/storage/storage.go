// Package storage owns the process-wide database connection pool and the
// tenant row-level-security plumbing every other package relies on: one
// pool per DSN, with every acquired connection scoped to a tenant via a
// session-local setting before any tenant-scoped query runs on it.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aideny-kr/chatcore/internal/apperr"
)

// Config describes how to dial the backing store.
type Config struct {
	Driver       string // postgres | mysql | sqlite3
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Pool wraps a *sql.DB with the driver name needed to pick the right
// row-level-scoping statement and the right row-lock syntax.
type Pool struct {
	mu     sync.Mutex
	db     *sql.DB
	driver string
}

// Open dials the configured backend, applies a single-connection cap for
// the embedded SQLite driver, and pre-pings so a broken connection is
// caught at startup rather than mid-turn.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		// SQLite only supports one writer; serialize all access through a
		// single connection to avoid "database is locked" errors.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		if _, err := db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("storage: failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("storage: failed to set busy timeout", "error", err)
		}
	}

	return &Pool{db: db, driver: cfg.Driver}, nil
}

// DB returns the underlying *sql.DB for callers that need raw access
// (migrations bookkeeping, health checks). Tenant-scoped reads should go
// through BeginTenantTx instead.
func (p *Pool) DB() *sql.DB { return p.db }

// Driver reports the dialect in use, so callers that must special-case row
// locking (FOR UPDATE vs driver-specific syntax) or placeholder style can
// branch on it.
func (p *Pool) Driver() string { return p.driver }

// Close releases the pool.
func (p *Pool) Close() error { return p.db.Close() }

// Tx is a transaction bound to exactly one tenant for its lifetime. On
// Postgres every statement issued through it runs with the storage engine's
// row-level security predicate active, so a bug that forgets a WHERE
// tenant_id = ... clause still cannot leak another tenant's rows; MySQL and
// SQLite have no such predicate (see setCurrentTenant).
type Tx struct {
	*sql.Tx
	driver   string
	tenantID string
}

// BeginTenantTx opens a transaction and binds the session-local tenant
// setting inside it before returning control to the caller
// ("every worker and every request handler MUST set it exactly once before
// issuing tenant-scoped SQL"). tenantID must be non-empty.
func (p *Pool) BeginTenantTx(ctx context.Context, tenantID string) (*Tx, error) {
	if tenantID == "" {
		return nil, apperr.New(apperr.InvariantViolation, "BeginTenantTx: empty tenant id")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	if err := setCurrentTenant(ctx, tx, p.driver, tenantID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &Tx{Tx: tx, driver: p.driver, tenantID: tenantID}, nil
}

// TenantID returns the tenant this transaction is scoped to.
func (t *Tx) TenantID() string { return t.tenantID }

// ForUpdateSuffix returns the row-locking clause for this dialect. SQLite has
// no row-level locking (the single-connection mode makes it moot); Postgres
// and MySQL both support the standard clause.
func (t *Tx) ForUpdateSuffix() string {
	if t.driver == "sqlite3" {
		return ""
	}
	return " FOR UPDATE"
}

// setCurrentTenant sets the RLS session variable the storage engine's row
// security policies key off of. Postgres uses SET LOCAL so the setting is
// transaction-scoped and cannot leak to a pooled connection reused by a
// different tenant afterward; MySQL/SQLite have no native RLS so the app
// still issues tenant_id predicates explicitly in those dialects, but the
// setting is tracked here too so audit/debugging stays consistent.
func setCurrentTenant(ctx context.Context, tx *sql.Tx, driver, tenantID string) error {
	switch driver {
	case "postgres":
		_, err := tx.ExecContext(ctx, "SET LOCAL app.current_tenant = $1", tenantID)
		if err != nil {
			return fmt.Errorf("set current_tenant: %w", err)
		}
	default:
		// MySQL and SQLite have no SET LOCAL session-GUC equivalent backing
		// row security; the tenant id is still threaded through ctx via
		// internal/tenant and every hand-written query predicates on it.
	}
	return nil
}
