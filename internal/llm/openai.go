package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aideny-kr/chatcore/internal/httpclient"
)

// OpenAIProvider adapts the canonical content-block form to OpenAI's
// function-calling message shape (tool_calls on assistant messages, a
// dedicated "tool" role for results keyed by tool_call_id).
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

func NewOpenAIProvider(apiKey, baseURL string, client *httpclient.Client) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiToolDef struct {
	Type     string            `json:"type"`
	Function openaiFunctionDef `json:"function"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openaiMessage `json:"messages"`
	Tools     []openaiToolDef `json:"tools,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Response, error) {
	oreq := openaiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  toOpenAIMessages(req.System, req.Messages),
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openaiToolDef{
			Type: "function",
			Function: openaiFunctionDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	respBody, status, err := p.client.PostJSON(httpReq, body)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}

	var oresp openaiResponse
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, fmt.Errorf("openai: unmarshal response (status %d): %w", status, err)
	}
	if oresp.Error != nil {
		return nil, fmt.Errorf("openai: api error: %s", oresp.Error.Message)
	}
	if len(oresp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	return fromOpenAIChoice(oresp), nil
}

func (p *OpenAIProvider) StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error) {
	return DefaultStream(ctx, p.CreateMessage, req)
}

func (p *OpenAIProvider) BuildAssistantMessage(resp *Response) Message {
	var blocks []ContentBlock
	for _, t := range resp.TextBlocks {
		blocks = append(blocks, ContentBlock{Type: "text", Text: t})
	}
	for _, tu := range resp.ToolUses {
		blocks = append(blocks, ContentBlock{Type: "tool_use", ToolUseID: tu.ID, ToolName: tu.Name, ToolInput: tu.Input})
	}
	return Message{Role: RoleAssistant, Content: blocks}
}

// BuildToolResultMessage returns one "tool" message per result, matching
// OpenAI's wire format rather than Anthropic's single-message-with-blocks.
func (p *OpenAIProvider) BuildToolResultMessage(results []ToolResultBlock) []Message {
	msgs := make([]Message, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, Message{
			Role: "tool",
			Content: []ContentBlock{{
				Type: "tool_result", ToolResultForID: r.ToolUseID, ToolResultText: r.Text, ToolResultError: r.IsError,
			}},
		})
	}
	return msgs
}

func toOpenAIMessages(system string, msgs []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openaiMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		if m.Role == "tool" {
			for _, b := range m.Content {
				out = append(out, openaiMessage{Role: "tool", Content: b.ToolResultText, ToolCallID: b.ToolResultForID})
			}
			continue
		}

		om := openaiMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				om.Content += b.Text
			case "tool_use":
				args, _ := json.Marshal(b.ToolInput)
				om.ToolCalls = append(om.ToolCalls, openaiToolCall{
					ID: b.ToolUseID, Type: "function",
					Function: openaiFunctionCall{Name: b.ToolName, Arguments: string(args)},
				})
			}
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIChoice(oresp openaiResponse) *Response {
	choice := oresp.Choices[0]
	resp := &Response{
		StopReason: choice.FinishReason,
		Usage:      Usage{InputTokens: oresp.Usage.PromptTokens, OutputTokens: oresp.Usage.CompletionTokens},
	}
	if choice.Message.Content != "" {
		resp.TextBlocks = append(resp.TextBlocks, choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolUses = append(resp.ToolUses, ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	return resp
}
