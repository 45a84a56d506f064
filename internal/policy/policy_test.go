package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aideny-kr/chatcore/internal/model"
)

func TestEvaluateToolCall_NilPolicyIsPermissive(t *testing.T) {
	d := EvaluateToolCall(nil, "suiteql_query", map[string]any{"query": "SELECT * FROM transaction"})
	assert.True(t, d.Allowed)
}

func TestEvaluateToolCall_BlockedFieldDenies(t *testing.T) {
	p := &model.PolicyProfile{BlockedFields: []string{"ssn"}}
	d := EvaluateToolCall(p, "suiteql_query", map[string]any{"query": "SELECT ssn FROM employee LIMIT 10"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "ssn")
}

func TestEvaluateToolCall_RequireRowLimit_NoCapDenies(t *testing.T) {
	p := &model.PolicyProfile{RequireRowLimit: true, MaxRowsPerQuery: 100}
	d := EvaluateToolCall(p, "suiteql_query", map[string]any{"query": "SELECT * FROM transaction"})
	assert.False(t, d.Allowed)
}

func TestEvaluateToolCall_RequireRowLimit_FetchFirstPasses(t *testing.T) {
	p := &model.PolicyProfile{RequireRowLimit: true, MaxRowsPerQuery: 100}
	d := EvaluateToolCall(p, "suiteql_query", map[string]any{"query": "SELECT * FROM transaction FETCH FIRST 50 ROWS ONLY"})
	assert.True(t, d.Allowed)
}

func TestEvaluateToolCall_RequireRowLimit_LimitClausePasses(t *testing.T) {
	p := &model.PolicyProfile{RequireRowLimit: true, MaxRowsPerQuery: 100}
	d := EvaluateToolCall(p, "suiteql_query", map[string]any{"query": "SELECT * FROM transaction LIMIT 10"})
	assert.True(t, d.Allowed)
}

func TestEvaluateToolCall_RequireRowLimit_CapExceedsMaxDenies(t *testing.T) {
	p := &model.PolicyProfile{RequireRowLimit: true, MaxRowsPerQuery: 100}
	d := EvaluateToolCall(p, "suiteql_query", map[string]any{"query": "SELECT * FROM transaction LIMIT 500"})
	assert.False(t, d.Allowed)
}

func TestRedactOutput_RecursiveAndIdempotent(t *testing.T) {
	p := &model.PolicyProfile{BlockedFields: []string{"SSN", "password"}}
	result := map[string]any{
		"name": "acme",
		"ssn":  "123-45-6789",
		"rows": []any{
			map[string]any{"id": 1, "Password": "hunter2"},
			map[string]any{"id": 2, "ssn": "000"},
		},
	}

	once := RedactOutput(p, result)
	onceMap := once.(map[string]any)
	_, hasSSN := onceMap["ssn"]
	assert.False(t, hasSSN)

	twice := RedactOutput(p, once)
	assert.Equal(t, once, twice)
}

func TestRedactOutput_NilPolicyNoOp(t *testing.T) {
	result := map[string]any{"ssn": "123"}
	assert.Equal(t, result, RedactOutput(nil, result))
}
