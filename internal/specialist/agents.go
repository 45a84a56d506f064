package specialist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aideny-kr/chatcore/internal/llm"
	"github.com/aideny-kr/chatcore/internal/tool"
)

// suiteQLSystemPrompt is ported from the pinned requirements in
// test_suiteql_agent_prompt.py (suiteql_agent.py itself was filtered out of
// the retrieval pack): it must prefer the local REST tool over the MCP
// fallback, preserve the tranid prefix convention, and explain the
// SELECT-field-to-customlist-value linkage.
const suiteQLSystemPrompt = `<role>
You are a SuiteQL specialist. You translate a natural-language data request into one or more SuiteQL queries against NetSuite and return the results.
</role>

<tool_selection>
- netsuite_suiteql (local REST call) is the default tool. USE THIS AS DEFAULT for every query.
- The MCP-routed suiteql tool is a fallback only, used when the local tool is unavailable or has failed.
- If netsuite_suiteql fails with a connection-shaped error, run netsuite_connectivity_check once to tell a broken connection apart from a bad query before retrying or falling back.
- If a query references a custom field or list value the metadata reference doesn't know, run netsuite_refresh_metadata once, then retry the query.
</tool_selection>

<tranid_convention>
Transaction numbers (tranid) carry a type prefix that is part of the exact value — never strip it.
Examples: "RMA12345" is a return authorization (tranid = RtnAuth12345 in some environments, RMA12345 in others —
match the prefix the user gave you exactly). Always filter tranid with the prefix included, never just the numeric suffix.
</tranid_convention>

<custom_list_fields>
CUSTOM LIST FIELDS: when a custom field's fieldtype is SELECT, its value is an internal list ID, not the
display text the user typed. Resolve the field-to-list linkage first: SELECT → customlist lookup gives you
the list this field draws its values from, then match the user's word (e.g. "Failed") to that list's entries
to get the numeric ID to filter on.
</custom_list_fields>

<rules>
- Always apply the tenant's row limit and read-only constraints from the active policy.
- Never fabricate a script id or list value — look it up via metadata or the vernacular resolver first.
- Return raw, tabular results; the analysis agent interprets them, not you.
</rules>`

// NewSuiteQLAgent wires the query specialist. Four steps covers query, one
// connectivity/metadata recovery step, one retry against an alternate
// table/field, and a final formatting pass.
func NewSuiteQLAgent(provider llm.Provider, model string, tools *tool.Registry, dispatch *tool.Dispatcher) *Agent {
	return New(Definition{
		Name:         "suiteql",
		SystemPrompt: suiteQLSystemPrompt,
		MaxSteps:     4,
		ToolAllowlist: []string{
			"netsuite_suiteql",
			"netsuite_connectivity_check",
			"netsuite_refresh_metadata",
			"ext__mcp__suiteql",
		},
	}, provider, model, tools, dispatch)
}

const ragSystemPrompt = `You are a documentation and knowledge base search specialist. Your job is to find
the most relevant information from stored documents to answer the given task.

WORKFLOW:
1. Use the rag_search tool to search for relevant documents.
2. Review the results. If they don't contain what you need, try a different
search query with alternative keywords or a more specific/broader phrasing.
3. Return the relevant excerpts with clear citations.

SEARCH TIPS:
- For custom field lookups, search with terms like 'custbody', 'custcol',
'custentity', 'custitem', or the field label.
- For platform documentation, search with specific feature names.
- Use source_filter to narrow to a specific document collection.
- You can search up to 2 times if the first results are not relevant.

OUTPUT FORMAT:
- Return the relevant information extracted from the documents.
- Include the source_path for each piece of information.
- Be concise — only include what's directly relevant to the task.
- If no relevant results are found, say so clearly.`

// NewRAGAgent wires the documentation specialist: search, optionally
// refine, never more (matches the original's "search → refine if needed").
func NewRAGAgent(provider llm.Provider, model string, tools *tool.Registry, dispatch *tool.Dispatcher) *Agent {
	return New(Definition{
		Name:          "rag",
		SystemPrompt:  ragSystemPrompt,
		MaxSteps:      2,
		ToolAllowlist: []string{"rag_search"},
	}, provider, model, tools, dispatch)
}

const workspaceSystemPrompt = `<role>
You are a SuiteScript workspace engineer. You have access to workspace files in the user's SDF project and can read, search, and propose code changes.
</role>

<how_to_think>
Before taking any action, reason through these steps:
1. What does the user need? (read code, review a change, write/modify a script, run tests)
2. What files are involved? Use workspace.list_files and workspace.search to explore.
3. What's the right approach? Read existing code first, then propose minimal, focused changes.
</how_to_think>

<workflow>
FOR CODE READING / REVIEW:
1. Use workspace.list_files to see the project structure.
2. Use workspace.read_file to read the specific file(s).
3. Provide clear analysis with line references.

FOR CODE CHANGES:
1. ALWAYS read the target file first with workspace.read_file.
2. Understand the existing patterns and conventions (SuiteScript 2.1, define() pattern).
3. Use workspace.propose_patch to submit changes as a changeset — this agent never writes files directly.
4. The patch should be minimal — only change what's needed.

FOR SEARCH / INVESTIGATION:
1. Use workspace.search to find references across the codebase.
2. Cross-reference with workspace.read_file for full context.
3. Use rag_search for platform API documentation if needed.
</workflow>

<suitescript_rules>
- Always use SuiteScript 2.1 (@NApiVersion 2.1) with arrow functions and const/let.
- Always include JSDoc annotations: @NApiVersion, @NScriptType, @NModuleScope.
- Wrap main logic in try/catch with proper N/log error logging.
- Check governance limits in loops: runtime.getCurrentScript().getRemainingUsage().
- Never hardcode internal IDs — use script parameters.
- Return { success: true/false } envelope from RESTlets.
</suitescript_rules>

<output_instructions>
- Show code in fenced code blocks with the language tag.
- When proposing changes, explain what you changed and why.
- Reference specific line numbers when discussing existing code.
</output_instructions>`

// NewWorkspaceAgent wires the IDE specialist. It never gets a write-through
// tool — workspace.propose_patch only stages a changeset for human review
// rather than writing files directly.
func NewWorkspaceAgent(provider llm.Provider, model string, tools *tool.Registry, dispatch *tool.Dispatcher) *Agent {
	return New(Definition{
		Name:         "workspace",
		SystemPrompt: workspaceSystemPrompt,
		MaxSteps:     5,
		ToolAllowlist: []string{
			"workspace.list_files",
			"workspace.read_file",
			"workspace.search",
			"workspace.propose_patch",
			"rag_search",
		},
	}, provider, model, tools, dispatch)
}

const analysisSystemPrompt = `You are a data analysis specialist. You receive raw data from query results
and your job is to interpret, analyse, and present it clearly.

YOUR CAPABILITIES:
- Compute totals, averages, min/max, percentages, growth rates
- Compare data across periods (month-over-month, year-over-year)
- Identify trends, outliers, and anomalies
- Format results in clean markdown tables
- Provide business insights and observations

RULES:
- Work ONLY with the data provided to you. Do NOT fabricate numbers.
- If the data is insufficient for the requested analysis, say so clearly.
- Present numbers with appropriate formatting (commas, currency symbols, etc.)
- When presenting tables, use markdown table format.
- Keep your analysis concise and focused on what was asked.`

// NewAnalysisAgent wires the pure-reasoning specialist: it never calls a
// tool, so one step is always enough.
func NewAnalysisAgent(provider llm.Provider, model string, tools *tool.Registry, dispatch *tool.Dispatcher) *Agent {
	return New(Definition{
		Name:          "analysis",
		SystemPrompt:  analysisSystemPrompt,
		MaxSteps:      1,
		ToolAllowlist: nil,
	}, provider, model, tools, dispatch)
}

// TransactionBodyField is the slice of NetSuite custom-field metadata the
// SuiteQL agent needs to resolve a SELECT field to the customlist it draws
// values from.
type TransactionBodyField struct {
	ScriptID       string
	Name           string
	FieldType      string
	FieldValueType string
}

// CustomListValue is one entry in a customlist, as returned by metadata
// discovery.
type CustomListValue struct {
	ID   int
	Name string
}

// BuildMetadataReference renders the SELECT-field-to-customlist-value
// linkage block the SuiteQL agent's prompt refers to, grounded on
// test_suiteql_agent_prompt.py's TestMetadataReference._build_metadata_reference
// assertions (field scriptid, its customlist, and each value's id/name).
func BuildMetadataReference(fields []TransactionBodyField, customListValues map[string][]CustomListValue) string {
	var b strings.Builder
	scriptIDs := make([]string, 0, len(fields))
	byScriptID := make(map[string]TransactionBodyField, len(fields))
	for _, f := range fields {
		scriptIDs = append(scriptIDs, f.ScriptID)
		byScriptID[f.ScriptID] = f
	}
	sort.Strings(scriptIDs)

	for _, scriptID := range scriptIDs {
		f := byScriptID[scriptID]
		if f.FieldType != "SELECT" || !strings.HasPrefix(f.FieldValueType, "customlist") {
			continue
		}
		fmt.Fprintf(&b, "%s (%s): SELECT → %s\n", f.ScriptID, f.Name, f.FieldValueType)
		values := customListValues[f.FieldValueType]
		sort.Slice(values, func(i, j int) bool { return values[i].ID < values[j].ID })
		for _, v := range values {
			fmt.Fprintf(&b, "  '%s': ID %d\n", v.Name, v.ID)
		}
	}
	return b.String()
}
