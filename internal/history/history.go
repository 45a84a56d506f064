// Package history implements the history compactor: once a
// chat session's message history exceeds a threshold, the oldest turns are
// replaced with a dense LLM-generated summary and the most recent exchanges
// are kept verbatim.
package history

import (
	"context"
	"strings"

	"github.com/aideny-kr/chatcore/internal/llm"
)

// threshold and keepRecent mirror the original's COMPACTION_THRESHOLD (12)
// and KEEP_RECENT (4): each user/assistant exchange is 2 messages, so 12
// messages is 6 turns, and the last 2 exchanges survive verbatim.
const (
	threshold  = 12
	keepRecent = 4
)

const compactionPrompt = `Summarise this conversation into a dense snapshot for an AI assistant.
RETAIN:
1. The user's current goal and any constraints they stated
2. Key data points mentioned (numbers, dates, record IDs, field names)
3. Strategies or queries that FAILED (to avoid repeating)
4. Any corrections or preferences the user stated
DROP: Pleasantries, raw data dumps, repeated questions, tool call JSON, markdown tables.
Output a concise summary (max 300 words).`

const summarizerSystemPrompt = "You are a conversation summariser. Output only the summary."

// Compactor runs history compaction through a dedicated fast-model LLM call.
type Compactor struct {
	provider llm.Provider
	model    string
}

// NewCompactor wraps a provider/model pair used only for summarization, kept
// separate from the turn's primary reasoning model.
func NewCompactor(provider llm.Provider, model string) *Compactor {
	return &Compactor{provider: provider, model: model}
}

// Compact returns messages unchanged if len(messages) <= threshold.
// Otherwise it summarizes every message but the last keepRecent into a
// <compacted_history> envelope followed by a one-line acknowledgement, then
// appends the recent messages verbatim. Any failure — the LLM call erroring
// or returning an empty summary — returns the original history unchanged.
func (c *Compactor) Compact(ctx context.Context, messages []llm.Message) []llm.Message {
	if len(messages) <= threshold {
		return messages
	}

	oldTurns := messages[:len(messages)-keepRecent]
	recentTurns := messages[len(messages)-keepRecent:]

	summaryMessages := make([]llm.Message, 0, len(oldTurns)+1)
	summaryMessages = append(summaryMessages, oldTurns...)
	summaryMessages = append(summaryMessages, llm.Message{
		Role:    llm.RoleUser,
		Content: []llm.ContentBlock{{Type: "text", Text: compactionPrompt}},
	})

	resp, err := c.provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    summarizerSystemPrompt,
		Messages:  summaryMessages,
	})
	if err != nil {
		return messages
	}

	summary := strings.TrimSpace(strings.Join(resp.TextBlocks, "\n"))
	if summary == "" {
		return messages
	}

	compacted := make([]llm.Message, 0, 2+len(recentTurns))
	compacted = append(compacted,
		llm.Message{
			Role:    llm.RoleUser,
			Content: []llm.ContentBlock{{Type: "text", Text: "<compacted_history>\n" + summary + "\n</compacted_history>"}},
		},
		llm.Message{
			Role:    llm.RoleAssistant,
			Content: []llm.ContentBlock{{Type: "text", Text: "Understood. I have the conversation context."}},
		},
	)
	compacted = append(compacted, recentTurns...)
	return compacted
}
