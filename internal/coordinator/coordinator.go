// Package coordinator implements the intent classifier and multi-agent
// router: a heuristic, zero-LLM-cost classifier routes each
// turn to one or more specialist agents, and a pass-through synthesis step
// skips a second LLM call whenever a specialist's own output (a markdown
// table, or a clear "no results" message) is already a complete answer.
package coordinator

import (
	"context"
	"regexp"
	"strings"

	"github.com/aideny-kr/chatcore/internal/llm"
)

// IntentType is the heuristic classification of a user message.
type IntentType string

const (
	IntentDataQuery     IntentType = "DATA_QUERY"
	IntentDocumentation IntentType = "DOCUMENTATION"
	IntentWorkspaceDev  IntentType = "WORKSPACE_DEV"
	IntentAnalysis      IntentType = "ANALYSIS"
	IntentAmbiguous     IntentType = "AMBIGUOUS"
)

// Route is one intent's specialist pipeline: the agents to run, and
// whether they run in parallel or sequentially (only ANALYSIS's
// suiteql→analysis pipeline is sequential and order-dependent; every other
// route is a single agent).
type Route struct {
	Agents   []string
	Parallel bool
}

// RouteRegistry maps every non-AMBIGUOUS intent to its specialist pipeline.
// AMBIGUOUS has no route: the turn runner falls back to a single LLM call
// with no tools instead of a specialist dispatch.
var RouteRegistry = map[IntentType]Route{
	IntentDocumentation: {Agents: []string{"rag"}, Parallel: false},
	IntentDataQuery:     {Agents: []string{"suiteql"}, Parallel: false},
	IntentWorkspaceDev:  {Agents: []string{"workspace"}, Parallel: false},
	IntentAnalysis:      {Agents: []string{"suiteql", "analysis"}, Parallel: false},
}

var (
	bareNumberRe = regexp.MustCompile(`^#?\d{4,}$`)
	orderCodeRe  = regexp.MustCompile(`(?i)\b(SO|INV|RMA)\d+\b`)

	analysisRe = regexp.MustCompile(`(?i)(\bcompare\b.*\bbetween\b|month-over-month|year-over-year|breakdown of|top \d+\b.*\bby\b|\banalyz[es]\b)`)

	dataQueryRe = regexp.MustCompile(`(?i)(\bshow me\b|\bget order\b|\bfind customer\b|\btotal revenue\b|\bpull the\b.*\binvoices?\b|\blook up\b|\btell me about\b|\bhow many\b.*\border|\blatest order\b|\bfetch\b.*\bpurchase orders?\b|\bsales total\b|\brevenue by\b|\binventory levels?\b|\baccounts receivable\b|\bsuiteql query for\b|\bfind the\b.*\border number\b)`)

	workspaceRe = regexp.MustCompile(`(?i)(\bwrite a\b.*\b(script|test)\b|\breview the changeset\b|\bcreate a jest test\b|\brefactor the\b.*\bscript\b|\blist the files\b|\bread the\b.*\bfile\b|\bsearch the workspace\b|\bpropose a patch\b|\bwrite a unit test\b|\bsearch the scripts\b|\bcreate a suitelet\b|\bwrite a client script\b)`)

	documentationRe = regexp.MustCompile(`(?i)(\bhow do i use\b|\bsyntax\b|\bexplain the difference\b|\bapi reference\b|\berror code\b.*\bmean\b|\bdocumentation\b|\bhow can i use\b|\bwhat tables are available\b|\bgovernance limit\b|\bhow can i query\b.*\bin suiteql\b)`)
)

// ClassifyIntent is a pure, stateless heuristic classifier: no LLM call, no
// I/O. Precedence is bare-number/order-code shortcut, then ANALYSIS (its
// trigger phrases are the most specific and would otherwise be shadowed by
// DATA_QUERY's broader "revenue"/"sales" triggers), then DATA_QUERY,
// WORKSPACE_DEV, DOCUMENTATION, falling through to AMBIGUOUS.
func ClassifyIntent(message string) IntentType {
	trimmed := strings.TrimSpace(message)
	if bareNumberRe.MatchString(trimmed) || orderCodeRe.MatchString(trimmed) {
		return IntentDataQuery
	}
	switch {
	case analysisRe.MatchString(message):
		return IntentAnalysis
	case dataQueryRe.MatchString(message):
		return IntentDataQuery
	case workspaceRe.MatchString(message):
		return IntentWorkspaceDev
	case documentationRe.MatchString(message):
		return IntentDocumentation
	default:
		return IntentAmbiguous
	}
}

// AgentResult is one specialist's outcome, as the coordinator collects it
// before deciding whether to pass it straight through or synthesize.
type AgentResult struct {
	Success   bool
	Data      string
	AgentName string
	Error     string
	Usage     llm.Usage
}

var noResultsRe = regexp.MustCompile(`(?i)(no matching|no results found|no data available|0 rows returned|no records found)`)

// minPassThroughLen mirrors the original's implicit floor on how short a
// result can be and still count as a complete answer ("OK" should not
// pass through, but a one-line "No records found for that query." message
// should).
const minPassThroughLen = 20

// markdownTableSepRe matches a markdown table's separator row: a line made
// up only of pipes, dashes, colons, and whitespace, with at least one dash
// (so a lone "|" in prose never counts).
var markdownTableSepRe = regexp.MustCompile(`^[\s:|-]*-[\s:|-]*$`)

// ContainsMarkdownTable reports whether text contains a markdown table: a
// header row (containing a pipe) immediately followed by a separator row.
func ContainsMarkdownTable(text string) bool {
	if text == "" {
		return false
	}
	lines := strings.Split(text, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.Contains(lines[i-1], "|") && markdownTableSepRe.MatchString(strings.TrimSpace(lines[i])) {
			return true
		}
	}
	return false
}

// SanitizeAgentData strips internal reasoning/tool-call markup a specialist
// may have leaked into its final text and truncates to 8000 characters
// before the result is shown to the user or fed into a synthesis prompt.
func SanitizeAgentData(text string) string {
	reasoningRe := regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>\n?`)
	funcCallsRe := regexp.MustCompile(`(?is)<function_calls>.*?</function_calls>\n?`)
	out := reasoningRe.ReplaceAllString(text, "")
	out = funcCallsRe.ReplaceAllString(out, "")
	const maxLen = 8000
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

// ShouldPassThrough returns the sanitized single-agent result verbatim
// (skipping a synthesis LLM call entirely) when exactly one specialist ran,
// it succeeded, and its output is already complete: a markdown table or an
// unambiguous "no results" message. It returns ("", false) for every other
// case — multiple agents, a failed agent, empty/too-short output, or prose
// that needs the main model to weave into a final answer.
func ShouldPassThrough(results []AgentResult) (string, bool) {
	if len(results) != 1 || !results[0].Success {
		return "", false
	}
	data := SanitizeAgentData(results[0].Data)
	if len(strings.TrimSpace(data)) < minPassThroughLen {
		return "", false
	}
	if ContainsMarkdownTable(data) || noResultsRe.MatchString(data) {
		return data, true
	}
	return "", false
}

// SynthesisModel picks the dedicated multi-agent synthesis model if
// configured, falling back to the main conversational model.
func SynthesisModel(synthesisModel, mainModel string) string {
	if synthesisModel != "" {
		return synthesisModel
	}
	return mainModel
}

// Synthesize either passes a single complete specialist result straight
// through, or asks the main model to weave every specialist's (sanitized)
// output into one final answer to the user's query.
func Synthesize(ctx context.Context, provider llm.Provider, model, query string, history []llm.Message, results []AgentResult) (string, llm.Usage, error) {
	if text, ok := ShouldPassThrough(results); ok {
		return text, llm.Usage{}, nil
	}

	var b strings.Builder
	for _, r := range results {
		if !r.Success {
			continue
		}
		b.WriteString("### ")
		b.WriteString(r.AgentName)
		b.WriteString("\n")
		b.WriteString(SanitizeAgentData(r.Data))
		b.WriteString("\n\n")
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: []llm.ContentBlock{{Type: "text", Text: "User asked: " + query +
			"\n\nSpecialist findings:\n" + b.String() +
			"\nSynthesize a final answer for the user from the above."}},
	})

	resp, err := provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     model,
		MaxTokens: 2048,
		System:    "You are a synthesis assistant. Combine specialist findings into one clear answer.",
		Messages:  messages,
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return resp.Text(), resp.Usage, nil
}
