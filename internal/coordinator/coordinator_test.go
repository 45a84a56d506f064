package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aideny-kr/chatcore/internal/llm"
)

type countingProvider struct {
	calls     int
	responses []*llm.Response
	err       error
}

func (p *countingProvider) Name() string { return "counting" }
func (p *countingProvider) CreateMessage(ctx context.Context, req llm.CreateMessageRequest) (*llm.Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	r := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return r, nil
}
func (p *countingProvider) StreamMessage(ctx context.Context, req llm.CreateMessageRequest) (<-chan llm.StreamEvent, error) {
	return llm.DefaultStream(ctx, p.CreateMessage, req)
}
func (p *countingProvider) BuildAssistantMessage(resp *llm.Response) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{Type: "text", Text: resp.Text()}}}
}
func (p *countingProvider) BuildToolResultMessage(results []llm.ToolResultBlock) []llm.Message {
	return nil
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		message string
		want    IntentType
	}{
		{"show me the last 10 sales orders", IntentDataQuery},
		{"12345", IntentDataQuery},
		{"#10023", IntentDataQuery},
		{"what's the status of SO44821", IntentDataQuery},
		{"compare revenue between Q1 and Q2", IntentAnalysis},
		{"top 5 customers by revenue", IntentAnalysis},
		{"write a unit test for the restlet", IntentWorkspaceDev},
		{"read the UserEventScript.js file", IntentWorkspaceDev},
		{"how do I use joins in SuiteQL", IntentDocumentation},
		{"what tables are available", IntentDocumentation},
		{"hello", IntentAmbiguous},
		{"thanks!", IntentAmbiguous},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ClassifyIntent(c.message), "message: %q", c.message)
	}
}

// ANALYSIS trigger phrases win over DATA_QUERY's broader revenue/sales
// vocabulary when both match.
func TestClassifyIntent_AnalysisBeatsDataQuery(t *testing.T) {
	require.Equal(t, IntentAnalysis, ClassifyIntent("month-over-month sales total"))
}

func TestClassifyIntent_IsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		require.Equal(t, IntentDataQuery, ClassifyIntent("show me the last 10 sales orders"))
		require.Equal(t, IntentAmbiguous, ClassifyIntent("hello"))
	}
}

func TestRouteRegistry(t *testing.T) {
	require.Equal(t, []string{"suiteql", "analysis"}, RouteRegistry[IntentAnalysis].Agents)
	require.False(t, RouteRegistry[IntentAnalysis].Parallel)
	require.Equal(t, []string{"suiteql"}, RouteRegistry[IntentDataQuery].Agents)
	require.Equal(t, []string{"rag"}, RouteRegistry[IntentDocumentation].Agents)
	require.Equal(t, []string{"workspace"}, RouteRegistry[IntentWorkspaceDev].Agents)
	_, hasAmbiguous := RouteRegistry[IntentAmbiguous]
	require.False(t, hasAmbiguous)
}

const sampleTable = "Here are the results:\n\n| Order | Amount |\n|-------|--------|\n| SO100 | 42.00  |\n"

func TestContainsMarkdownTable(t *testing.T) {
	require.True(t, ContainsMarkdownTable(sampleTable))
	require.False(t, ContainsMarkdownTable("prose with a | pipe in it, but no table"))
	require.False(t, ContainsMarkdownTable(""))
}

func TestSanitizeAgentData_StripsScaffolding(t *testing.T) {
	in := "<reasoning>internal deliberation</reasoning>\nanswer\n<function_calls>call blob</function_calls>\n"
	out := SanitizeAgentData(in)
	require.NotContains(t, out, "reasoning")
	require.NotContains(t, out, "function_calls")
	require.Contains(t, out, "answer")
}

func TestSanitizeAgentData_TruncatesAndIsIdempotent(t *testing.T) {
	long := strings.Repeat("x", 9000)
	out := SanitizeAgentData(long)
	require.Len(t, out, 8000)
	require.Equal(t, out, SanitizeAgentData(out))
}

func TestShouldPassThrough(t *testing.T) {
	table := []AgentResult{{Success: true, Data: sampleTable, AgentName: "suiteql"}}
	got, ok := ShouldPassThrough(table)
	require.True(t, ok)
	require.Equal(t, sampleTable, got)

	noResults := []AgentResult{{Success: true, Data: "No records found for that query.", AgentName: "suiteql"}}
	_, ok = ShouldPassThrough(noResults)
	require.True(t, ok)

	_, ok = ShouldPassThrough([]AgentResult{{Success: true, Data: "OK"}})
	require.False(t, ok, "too-short output must not pass through")

	_, ok = ShouldPassThrough([]AgentResult{{Success: false, Data: sampleTable}})
	require.False(t, ok, "failed agent must not pass through")

	_, ok = ShouldPassThrough([]AgentResult{
		{Success: true, Data: sampleTable},
		{Success: true, Data: "more analysis"},
	})
	require.False(t, ok, "multiple agents always synthesize")

	_, ok = ShouldPassThrough([]AgentResult{{Success: true, Data: "Long-form prose that is neither a table nor a no-results statement."}})
	require.False(t, ok)
}

// A single agent emitting a markdown table must reach the user verbatim with
// no synthesis model call at all.
func TestSynthesize_PassThroughSkipsLLM(t *testing.T) {
	provider := &countingProvider{}
	results := []AgentResult{{Success: true, Data: sampleTable, AgentName: "suiteql"}}

	got, usage, err := Synthesize(context.Background(), provider, "main-model", "show me orders", nil, results)
	require.NoError(t, err)
	require.Equal(t, sampleTable, got)
	require.Zero(t, usage.InputTokens)
	require.Equal(t, 0, provider.calls)
}

func TestSynthesize_MultiAgentCallsLLMOnce(t *testing.T) {
	provider := &countingProvider{responses: []*llm.Response{
		{TextBlocks: []string{"combined answer"}, Usage: llm.Usage{InputTokens: 50, OutputTokens: 20}},
	}}
	results := []AgentResult{
		{Success: true, Data: sampleTable, AgentName: "suiteql"},
		{Success: true, Data: "Revenue grew 12% over the period.", AgentName: "analysis"},
		{Success: false, Error: "max steps reached", AgentName: "rag"},
	}

	got, usage, err := Synthesize(context.Background(), provider, "main-model", "analyze orders", nil, results)
	require.NoError(t, err)
	require.Equal(t, "combined answer", got)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, 50, usage.InputTokens)
}

func TestClassifyWithLLM(t *testing.T) {
	provider := &countingProvider{responses: []*llm.Response{{TextBlocks: []string{"ANALYSIS"}}}}
	intent, err := ClassifyWithLLM(context.Background(), provider, "fast-model", "hello")
	require.NoError(t, err)
	require.Equal(t, IntentAnalysis, intent)

	provider = &countingProvider{responses: []*llm.Response{{TextBlocks: []string{"honestly, no idea"}}}}
	intent, err = ClassifyWithLLM(context.Background(), provider, "fast-model", "hello")
	require.NoError(t, err)
	require.Equal(t, IntentAmbiguous, intent)

	provider = &countingProvider{err: errors.New("upstream down")}
	intent, err = ClassifyWithLLM(context.Background(), provider, "fast-model", "hello")
	require.Error(t, err)
	require.Equal(t, IntentAmbiguous, intent)
}

func TestSynthesisModel_Fallback(t *testing.T) {
	require.Equal(t, "synth", SynthesisModel("synth", "main"))
	require.Equal(t, "main", SynthesisModel("", "main"))
}
