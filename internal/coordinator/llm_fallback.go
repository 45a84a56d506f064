package coordinator

import (
	"context"
	"strings"

	"github.com/aideny-kr/chatcore/internal/llm"
)

// ambiguousClassifierSystemPrompt asks the fallback model for a single-word
// verdict rather than prose, so ClassifyWithLLM only needs to look for
// which intent name appears in the response.
const ambiguousClassifierSystemPrompt = `Classify the user's message into exactly one category:
DATA_QUERY, WORKSPACE_DEV, DOCUMENTATION, or ANALYSIS.
Respond with only the category name, nothing else.`

// ClassifyWithLLM is the fallback the coordinator invokes when the
// zero-cost heuristic classifier returns AMBIGUOUS. It is a thin wrapper: one
// LLM call, and the response is checked for the known intent names in the
// fixed order DATA_QUERY, WORKSPACE_DEV, DOCUMENTATION, ANALYSIS; the first
// one it contains wins. A response that names none of them is still AMBIGUOUS — this
// function never invents a route the caller didn't ask the model for.
func ClassifyWithLLM(ctx context.Context, provider llm.Provider, model, message string) (IntentType, error) {
	resp, err := provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     model,
		MaxTokens: 16,
		System:    ambiguousClassifierSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: "text", Text: message}}},
		},
	})
	if err != nil {
		return IntentAmbiguous, err
	}

	text := strings.ToUpper(resp.Text())
	for _, candidate := range []IntentType{IntentDataQuery, IntentWorkspaceDev, IntentDocumentation, IntentAnalysis} {
		if strings.Contains(text, string(candidate)) {
			return candidate, nil
		}
	}
	return IntentAmbiguous, nil
}
