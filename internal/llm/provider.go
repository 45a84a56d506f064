package llm

import "context"

// Provider is the interface every concrete LLM back-end implements, covering
// message creation, streaming, and the provider-native message shapes.
type Provider interface {
	// Name identifies the provider for registry lookup and metrics labels.
	Name() string

	CreateMessage(ctx context.Context, req CreateMessageRequest) (*Response, error)

	// StreamMessage returns a channel of StreamEvent terminated by exactly
	// one StreamResponse event when the call succeeds. The default
	// implementation (DefaultStream, embedded by adapters without true
	// incremental streaming) emits the full text in one chunk before the
	// terminal response, and closes the channel without a terminal event if
	// the call fails or ctx is cancelled first.
	StreamMessage(ctx context.Context, req CreateMessageRequest) (<-chan StreamEvent, error)

	// BuildAssistantMessage converts an LLMResponse into a provider-native
	// assistant Message suitable for appending to conversation history.
	BuildAssistantMessage(resp *Response) Message

	// BuildToolResultMessage converts a list of tool-result blocks into the
	// message the provider expects (a user-role message on the
	// Anthropic/Gemini shape, a sequence of tool-role messages on OpenAI's).
	BuildToolResultMessage(results []ToolResultBlock) []Message
}

// CreateMessageRequest is the canonical request shape CreateMessage/
// StreamMessage take.
type CreateMessageRequest struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
	Tools     []ToolDefinition
}

// ToolResultBlock is one tool call's outcome, fed back to the model.
type ToolResultBlock struct {
	ToolUseID string
	Text      string
	IsError   bool
}

// DefaultStream wraps a non-streaming CreateMessage into the StreamEvent
// channel shape: it emits the full text in a single chunk, then a terminal
// StreamResponse event, for adapters without true incremental streaming.
func DefaultStream(ctx context.Context, create func(context.Context, CreateMessageRequest) (*Response, error), req CreateMessageRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 2)
	go func() {
		defer close(ch)
		resp, err := create(ctx, req)
		if err != nil {
			return
		}
		if text := resp.Text(); text != "" {
			select {
			case ch <- StreamEvent{Kind: StreamText, Text: text}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- StreamEvent{Kind: StreamResponse, Response: resp}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
