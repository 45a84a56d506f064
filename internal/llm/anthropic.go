package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aideny-kr/chatcore/internal/httpclient"
)

// AnthropicProvider talks to the Anthropic Messages API directly over REST
// with a hand-rolled client rather than pulling in an official SDK.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

// NewAnthropicProvider constructs an adapter for the given API key. baseURL
// defaults to the public Anthropic API if empty (useful for test doubles).
func NewAnthropicProvider(apiKey, baseURL string, client *httpclient.Client) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1/messages"
	}
	return &AnthropicProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string              `json:"role"`
	Content []anthropicContent  `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Response, error) {
	areq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  toAnthropicMessages(req.Messages),
	}
	for _, t := range req.Tools {
		areq.Tools = append(areq.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(areq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	respBody, status, err := p.client.PostJSON(httpReq, body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}

	var aresp anthropicResponse
	if err := json.Unmarshal(respBody, &aresp); err != nil {
		return nil, fmt.Errorf("anthropic: unmarshal response (status %d): %w", status, err)
	}
	if aresp.Error != nil {
		return nil, fmt.Errorf("anthropic: api error: %s", aresp.Error.Message)
	}

	return fromAnthropicContent(aresp), nil
}

func (p *AnthropicProvider) StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error) {
	return DefaultStream(ctx, p.CreateMessage, req)
}

func (p *AnthropicProvider) BuildAssistantMessage(resp *Response) Message {
	var blocks []ContentBlock
	for _, t := range resp.TextBlocks {
		blocks = append(blocks, ContentBlock{Type: "text", Text: t})
	}
	for _, tu := range resp.ToolUses {
		blocks = append(blocks, ContentBlock{Type: "tool_use", ToolUseID: tu.ID, ToolName: tu.Name, ToolInput: tu.Input})
	}
	return Message{Role: RoleAssistant, Content: blocks}
}

func (p *AnthropicProvider) BuildToolResultMessage(results []ToolResultBlock) []Message {
	var blocks []ContentBlock
	for _, r := range results {
		blocks = append(blocks, ContentBlock{
			Type: "tool_result", ToolResultForID: r.ToolUseID, ToolResultText: r.Text, ToolResultError: r.IsError,
		})
	}
	return []Message{{Role: RoleUser, Content: blocks}}
}

func toAnthropicMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		am := anthropicMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				am.Content = append(am.Content, anthropicContent{Type: "text", Text: b.Text})
			case "tool_use":
				am.Content = append(am.Content, anthropicContent{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
			case "tool_result":
				am.Content = append(am.Content, anthropicContent{
					Type: "tool_result", ToolUseID: b.ToolResultForID, Content: b.ToolResultText, IsError: b.ToolResultError,
				})
			}
		}
		out = append(out, am)
	}
	return out
}

func fromAnthropicContent(aresp anthropicResponse) *Response {
	resp := &Response{
		StopReason: aresp.StopReason,
		Usage:      Usage{InputTokens: aresp.Usage.InputTokens, OutputTokens: aresp.Usage.OutputTokens},
	}
	for _, c := range aresp.Content {
		switch c.Type {
		case "text":
			resp.TextBlocks = append(resp.TextBlocks, c.Text)
		case "tool_use":
			resp.ToolUses = append(resp.ToolUses, ToolUse{ID: c.ID, Name: c.Name, Input: c.Input})
		}
	}
	return resp
}
