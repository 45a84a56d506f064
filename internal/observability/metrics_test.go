package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTurnIncrementsCounters(t *testing.T) {
	m := NewMetrics("testns")

	m.ObserveTurn("tenant-a", "success", 250*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TurnsTotal.WithLabelValues("tenant-a", "success")))
}

func TestObserveToolCallRecordsErrors(t *testing.T) {
	m := NewMetrics("testns2")

	m.ObserveToolCall("tenant-a", "netsuite_suiteql", 10*time.Millisecond, nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("tenant-a", "netsuite_suiteql")))

	m.ObserveToolCall("tenant-a", "netsuite_suiteql", 10*time.Millisecond, errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallErrors.WithLabelValues("netsuite_suiteql", "boom")))
}

func TestObserveLLMCallAddsTokens(t *testing.T) {
	m := NewMetrics("testns3")

	m.ObserveLLMCall("anthropic", "claude-sonnet-5", 100, 40)
	assert.Equal(t, float64(100), testutil.ToFloat64(m.LLMTokensInput.WithLabelValues("anthropic", "claude-sonnet-5")))
	assert.Equal(t, float64(40), testutil.ToFloat64(m.LLMTokensOutput.WithLabelValues("anthropic", "claude-sonnet-5")))
}
