// Package llm implements the provider-agnostic LLM adapter:
// a single create/stream surface over several concrete back-ends, translating
// between a canonical {text, tool_use} content-block form and each
// provider's native wire shape. One file per provider, a shared httpclient,
// and a registry.BaseRegistry-style lookup by name.
package llm

// Role mirrors the canonical message roles the orchestrator passes around.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentBlock is the canonical Anthropic-style content-block union: exactly
// one of Text, ToolUse, or ToolResult is populated depending on Type.
type ContentBlock struct {
	Type string `json:"type"` // text | tool_use | tool_result

	Text string `json:"text,omitempty"`

	// tool_use fields (assistant requesting a call)
	ToolUseID   string         `json:"tool_use_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolInput   map[string]any `json:"tool_input,omitempty"`

	// tool_result fields (the result fed back to the model)
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`
}

// Message is one turn in the canonical conversation, provider-agnostic.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDefinition describes a tool an agent is permitted to call this step.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Usage is token accounting for one LLM call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the canonical result of CreateMessage: ordered text blocks,
// zero or more tool-use blocks, and usage.
type Response struct {
	TextBlocks []string
	ToolUses   []ToolUse
	Usage      Usage
	StopReason string
}

// ToolUse is one tool invocation the model requested.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Text concatenates every text block, the common case for callers that only
// care about the prose.
func (r *Response) Text() string {
	out := ""
	for _, t := range r.TextBlocks {
		out += t
	}
	return out
}

// HasToolUse reports whether the model asked to call any tools.
func (r *Response) HasToolUse() bool { return len(r.ToolUses) > 0 }

// StreamEventKind distinguishes the two event shapes a stream emits.
type StreamEventKind string

const (
	StreamText     StreamEventKind = "text"
	StreamResponse StreamEventKind = "response"
)

// StreamEvent is one item of the async sequence stream_message yields:
// zero or more ("text", chunk) events followed, when the call succeeds, by
// exactly one terminal ("response", Response) event.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	Response *Response
}
