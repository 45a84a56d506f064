// Package tenant implements the tenant context binder: it
// binds a tenant identifier to the lifetime of one logical unit of work —
// one HTTP request, one background job, one scheduled task — so every
// tenant-scoped read downstream can recover it without threading an explicit
// parameter through every call.
package tenant

import (
	"context"

	"github.com/aideny-kr/chatcore/internal/apperr"
)

type ctxKey struct{}

// Bind returns a context with tenantID bound for the remainder of the unit
// of work. Rebinding a different tenant id onto an already-bound context is
// a programmer error — forbids nested binds with different
// tenants — and returns an InvariantViolation rather than silently
// overwriting the outer scope.
func Bind(ctx context.Context, tenantID string) (context.Context, error) {
	if tenantID == "" {
		return ctx, apperr.New(apperr.InvariantViolation, "tenant.Bind: empty tenant id")
	}
	if existing, ok := ctx.Value(ctxKey{}).(string); ok {
		if existing != tenantID {
			return ctx, apperr.New(apperr.InvariantViolation,
				"tenant.Bind: nested bind with a different tenant id")
		}
		return ctx, nil
	}
	return context.WithValue(ctx, ctxKey{}, tenantID), nil
}

// FromContext recovers the bound tenant id. Callers that require a tenant to
// be bound (any tenant-scoped read) should treat a missing binding as fatal.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", apperr.New(apperr.InvariantViolation, "tenant.FromContext: no tenant bound")
	}
	return id, nil
}

// MustFromContext is a convenience for call sites that have already
// validated a tenant is bound (e.g. immediately after Bind succeeded) and
// want to avoid repeating the error check. It panics if none is bound, so
// use it only where that invariant is structurally guaranteed.
func MustFromContext(ctx context.Context) string {
	id, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return id
}
