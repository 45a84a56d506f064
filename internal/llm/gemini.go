package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aideny-kr/chatcore/internal/httpclient"
)

// GeminiProvider adapts the canonical content-block form to Gemini's
// parts/functionCall wire shape.
type GeminiProvider struct {
	apiKey  string
	baseURL string // without trailing :generateContent?key=...
	client  *httpclient.Client
}

func NewGeminiProvider(apiKey, baseURL string, client *httpclient.Client) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	}
	return &GeminiProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) CreateMessage(ctx context.Context, req CreateMessageRequest) (*Response, error) {
	greq := geminiRequest{Contents: toGeminiContents(req.Messages)}
	if req.System != "" {
		greq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		greq.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	body, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	respBody, status, err := p.client.PostJSON(httpReq, body)
	if err != nil {
		return nil, fmt.Errorf("gemini: request: %w", err)
	}

	var gresp geminiResponse
	if err := json.Unmarshal(respBody, &gresp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal response (status %d): %w", status, err)
	}
	if gresp.Error != nil {
		return nil, fmt.Errorf("gemini: api error: %s", gresp.Error.Message)
	}
	if len(gresp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidates")
	}

	return fromGeminiCandidate(gresp), nil
}

func (p *GeminiProvider) StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error) {
	return DefaultStream(ctx, p.CreateMessage, req)
}

func (p *GeminiProvider) BuildAssistantMessage(resp *Response) Message {
	var blocks []ContentBlock
	for _, t := range resp.TextBlocks {
		blocks = append(blocks, ContentBlock{Type: "text", Text: t})
	}
	for _, tu := range resp.ToolUses {
		blocks = append(blocks, ContentBlock{Type: "tool_use", ToolUseID: tu.ID, ToolName: tu.Name, ToolInput: tu.Input})
	}
	return Message{Role: RoleAssistant, Content: blocks}
}

func (p *GeminiProvider) BuildToolResultMessage(results []ToolResultBlock) []Message {
	var parts []ContentBlock
	for _, r := range results {
		parts = append(parts, ContentBlock{
			Type: "tool_result", ToolResultForID: r.ToolUseID, ToolResultText: r.Text, ToolResultError: r.IsError,
		})
	}
	return []Message{{Role: RoleUser, Content: parts}}
}

func toGeminiContents(msgs []Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		gc := geminiContent{Role: role}
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				gc.Parts = append(gc.Parts, geminiPart{Text: b.Text})
			case "tool_use":
				gc.Parts = append(gc.Parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: b.ToolName, Args: b.ToolInput}})
			case "tool_result":
				gc.Parts = append(gc.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
					Name:     b.ToolResultForID,
					Response: map[string]any{"result": b.ToolResultText, "is_error": b.ToolResultError},
				}})
			}
		}
		out = append(out, gc)
	}
	return out
}

func fromGeminiCandidate(gresp geminiResponse) *Response {
	cand := gresp.Candidates[0]
	resp := &Response{
		StopReason: cand.FinishReason,
		Usage: Usage{
			InputTokens:  gresp.UsageMetadata.PromptTokenCount,
			OutputTokens: gresp.UsageMetadata.CandidatesTokenCount,
		},
	}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			resp.TextBlocks = append(resp.TextBlocks, part.Text)
		}
		if part.FunctionCall != nil {
			resp.ToolUses = append(resp.ToolUses, ToolUse{Name: part.FunctionCall.Name, Input: part.FunctionCall.Args})
		}
	}
	return resp
}
