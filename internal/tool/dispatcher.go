package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/apperr"
	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/entitlement"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/observability"
	"github.com/aideny-kr/chatcore/internal/policy"
	"github.com/aideny-kr/chatcore/internal/ratelimit"
)

// defaultTimeout bounds a tool call when neither the local Definition nor
// the dispatcher's remote SessionPool specifies one.
const defaultTimeout = 30 * time.Second

// EntitlementChecker is the narrow slice of the entitlement evaluator the
// dispatcher needs: may this tenant use this feature right now.
type EntitlementChecker interface {
	Check(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error)
}

// Dispatcher is the governed tool-call substrate: every call,
// local or remote, passes through allow-list, rate limit, policy, a
// timeout-raced execution, output redaction, audit, and metrics — in that
// order, with a timer and audit emission wrapped around every inner call.
// Remote calls additionally pass an entitlement check, since MCP tools are a
// plan-gated feature.
type Dispatcher struct {
	local        *Registry
	remote       *SessionPool
	limiter      *ratelimit.Limiter
	entitlements EntitlementChecker
	auditLog     *audit.Log
	metrics      *observability.Metrics
}

// NewDispatcher wires the governance pipeline's collaborators. remote may be
// nil for deployments with no MCP connectors configured; entitlements may be
// nil to skip plan gating (tests, single-tenant deployments).
func NewDispatcher(local *Registry, remote *SessionPool, limiter *ratelimit.Limiter, entitlements EntitlementChecker, auditLog *audit.Log, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{local: local, remote: remote, limiter: limiter, entitlements: entitlements, auditLog: auditLog, metrics: metrics}
}

// Outcome is what Dispatch returns: the (possibly redacted) payload, plus the
// bookkeeping callers attach to a ChatMessage.ToolCalls entry.
type Outcome struct {
	ToolName   string
	Payload    any
	DurationMS int64
	Err        error
}

// Dispatch runs one governed tool call. tc.Tx is used for local executors and
// for the audit write; remote calls never see tc.Tx. A non-nil error is always an *apperr.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, tc Context, pol *model.PolicyProfile, toolName string, params map[string]any) (*Outcome, error) {
	start := time.Now()

	outcome, err := d.dispatch(ctx, tc, pol, toolName, params)
	duration := time.Since(start)

	status := "ok"
	var errMsg string
	if err != nil {
		status = auditStatus(err)
		errMsg = err.Error()
	}

	if d.auditLog != nil && tc.Tx != nil {
		auditPayload := map[string]any{"params": params}
		if err == nil && outcome != nil {
			if n, ok := resultCount(outcome.Payload); ok {
				auditPayload["result_count"] = n
			}
		}
		auditErr := d.auditLog.Append(ctx, tc.Tx, audit.Event{
			TenantID:      tc.TenantID,
			ActorID:       &tc.ActorID,
			ActorType:     "user",
			Category:      "tool_call",
			Action:        toolName,
			ResourceType:  "tool",
			ResourceID:    toolName,
			CorrelationID: tc.CorrelationID,
			Payload:       auditPayload,
			Status:        status,
			ErrorMessage:  errMsg,
		})
		if auditErr != nil && err == nil {
			err = apperr.Wrap(apperr.InvariantViolation, fmt.Errorf("tool: audit write: %w", auditErr))
		}
	}

	if d.metrics != nil {
		d.metrics.ObserveToolCall(tc.TenantID.String(), toolName, duration, err)
	}

	if outcome == nil {
		outcome = &Outcome{ToolName: toolName}
	}
	outcome.DurationMS = duration.Milliseconds()
	outcome.Err = err
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, tc Context, pol *model.PolicyProfile, toolName string, params map[string]any) (*Outcome, error) {
	if !allowListed(pol, toolName) {
		return nil, apperr.New(apperr.PolicyDenied, fmt.Sprintf("tool %q is not on the tenant's allowlist", toolName))
	}

	if d.limiter != nil {
		ok, err := d.limiter.Allow(tc.TenantID.String(), toolName)
		if (err != nil || !ok) && d.metrics != nil {
			d.metrics.RateLimitRejects.WithLabelValues(tc.TenantID.String(), toolName).Inc()
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.New(apperr.QuotaExceeded, fmt.Sprintf("rate limit exceeded for tool %q", toolName))
		}
	}

	decision := policy.EvaluateToolCall(pol, toolName, params)
	if !decision.Allowed {
		return nil, apperr.New(apperr.PolicyDenied, decision.Reason)
	}

	payload, err := d.execute(ctx, tc, toolName, params)
	if err != nil {
		return nil, err
	}

	redacted := policy.RedactOutput(pol, payload)
	return &Outcome{ToolName: toolName, Payload: redacted}, nil
}

// execute runs the tool body with a timeout race: the executor's own ctx
// cancellation is respected, but a hung remote call or local executor cannot
// block the turn past its timeout.
func (d *Dispatcher) execute(ctx context.Context, tc Context, toolName string, params map[string]any) (any, error) {
	if connectorID, remoteName, ok := ParseRemoteToolName(toolName); ok {
		return d.executeRemote(ctx, tc, connectorID, remoteName, params)
	}

	def, ok := d.local.Get(toolName)
	if !ok {
		return nil, apperr.New(apperr.InvariantViolation, fmt.Sprintf("tool %q is not registered", toolName))
	}

	timeout := defaultTimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		payload any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := def.Execute(callCtx, tc, params)
		done <- result{payload, err}
	}()

	select {
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, apperr.New(apperr.ToolTimeout, fmt.Sprintf("tool %q timed out after %s", toolName, timeout))
		}
		return nil, apperr.Wrap(apperr.Cancelled, callCtx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, apperr.WrapReason(apperr.UpstreamFailure, toolName, r.err)
		}
		return r.payload, nil
	}
}

func (d *Dispatcher) executeRemote(ctx context.Context, tc Context, connectorIDStr, remoteName string, params map[string]any) (any, error) {
	if d.entitlements != nil {
		allowed, err := d.entitlements.Check(ctx, tc.TenantID, entitlement.FeatureMCPTools)
		if err != nil {
			return nil, apperr.WrapReason(apperr.UpstreamFailure, "entitlement check", err)
		}
		if !allowed {
			return nil, apperr.New(apperr.QuotaExceeded, "tenant plan does not permit remote MCP tools")
		}
	}
	if d.remote == nil {
		return nil, apperr.New(apperr.InvariantViolation, "no remote connectors configured")
	}
	connectorID, err := uuid.Parse(connectorIDStr)
	if err != nil {
		return nil, apperr.WrapReason(apperr.InvariantViolation, "malformed connector id in tool name", err)
	}

	sess, err := d.remote.Get(ctx, tc.TenantID, connectorID)
	if err != nil {
		return nil, apperr.WrapReason(apperr.UpstreamFailure, "resolve remote connector", err)
	}

	res, err := sess.CallTool(ctx, remoteName, params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperr.New(apperr.ToolTimeout, fmt.Sprintf("remote tool %q timed out", remoteName))
		}
		return nil, apperr.WrapReason(apperr.UpstreamFailure, "remote call_tool", err)
	}
	if res.IsError {
		return nil, apperr.New(apperr.UpstreamFailure, fmt.Sprintf("remote tool %q returned an error result", remoteName))
	}
	return res.Result, nil
}

// resultCount derives a row/document count from a successful payload so the
// audit trail can answer "how much data did this call surface" without
// persisting the data itself.
func resultCount(payload any) (int, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	for _, key := range []string{"count", "total"} {
		switch v := m[key].(type) {
		case int:
			return v, true
		case float64:
			return int(v), true
		}
	}
	for _, key := range []string{"results", "rows"} {
		switch v := m[key].(type) {
		case []any:
			return len(v), true
		case []map[string]any:
			return len(v), true
		}
	}
	return 0, false
}

// allowListed reports whether toolName is permitted by the policy's
// ToolAllowlist. An empty allowlist, or a nil policy, permits everything.
func allowListed(p *model.PolicyProfile, toolName string) bool {
	if p == nil || len(p.ToolAllowlist) == 0 {
		return true
	}
	for _, name := range p.ToolAllowlist {
		if name == toolName {
			return true
		}
	}
	return false
}

func auditStatus(err error) string {
	switch {
	case apperr.Is(err, apperr.PolicyDenied):
		return "denied"
	case apperr.Is(err, apperr.QuotaExceeded):
		return "denied"
	case apperr.Is(err, apperr.ToolTimeout):
		return "timeout"
	case apperr.Is(err, apperr.Cancelled):
		return "cancelled"
	default:
		return "error"
	}
}
