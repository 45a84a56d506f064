// Package policy implements the policy evaluator: evaluates a
// tenant's declarative policy profile against a pending tool call and
// against its result.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aideny-kr/chatcore/internal/model"
)

// Decision is the outcome of EvaluateToolCall.
type Decision struct {
	Allowed bool
	Reason  string
}

// rowCapPattern recognizes SQL row-cap clauses the policy evaluator accepts
// as satisfying require_row_limit: FETCH FIRST N ROWS ONLY and LIMIT N.
var rowCapPattern = regexp.MustCompile(`(?i)(?:FETCH\s+FIRST\s+(\d+)\s+ROWS\s+ONLY|LIMIT\s+(\d+))`)

// EvaluateToolCall applies a tenant's policy profile to a pending tool call.
// A nil policy is permissive.
func EvaluateToolCall(p *model.PolicyProfile, toolName string, params map[string]any) Decision {
	if p == nil {
		return Decision{Allowed: true}
	}

	if len(p.BlockedFields) > 0 {
		if query, ok := queryString(params); ok {
			lowerQuery := strings.ToLower(query)
			for _, field := range p.BlockedFields {
				if strings.Contains(lowerQuery, strings.ToLower(field)) {
					return Decision{
						Allowed: false,
						Reason:  fmt.Sprintf("query references blocked field %q", field),
					}
				}
			}
		}
	}

	if p.RequireRowLimit {
		query, ok := queryString(params)
		if !ok {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("query must include a row cap of at most %d rows", p.MaxRowsPerQuery),
			}
		}
		cap, hasCap := extractRowCap(query)
		if !hasCap {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("query must include a row cap of at most %d rows", p.MaxRowsPerQuery),
			}
		}
		if p.MaxRowsPerQuery > 0 && cap > p.MaxRowsPerQuery {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("row cap %d exceeds the maximum of %d rows", cap, p.MaxRowsPerQuery),
			}
		}
	}

	return Decision{Allowed: true}
}

func queryString(params map[string]any) (string, bool) {
	raw, ok := params["query"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func extractRowCap(query string) (int, bool) {
	m := rowCapPattern.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	numStr := m[1]
	if numStr == "" {
		numStr = m[2]
	}
	n := 0
	for _, c := range numStr {
		n = n*10 + int(c-'0')
	}
	return n, true
}

// RedactOutput recursively strips keys matching policy.BlockedFields
// (case-insensitive) from maps and slices, leaving scalars untouched. A nil
// policy or empty BlockedFields leaves result unchanged. RedactOutput is
// idempotent: applying it twice yields the same result as applying it once.
func RedactOutput(p *model.PolicyProfile, result any) any {
	if p == nil || len(p.BlockedFields) == 0 {
		return result
	}
	blocked := make(map[string]struct{}, len(p.BlockedFields))
	for _, f := range p.BlockedFields {
		blocked[strings.ToLower(f)] = struct{}{}
	}
	return redact(result, blocked)
}

func redact(v any, blocked map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, isBlocked := blocked[strings.ToLower(k)]; isBlocked {
				continue
			}
			out[k] = redact(val, blocked)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redact(item, blocked)
		}
		return out
	default:
		return v
	}
}
