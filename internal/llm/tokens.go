package llm

import (
	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens gives a local token count estimate before a provider
// response returns real usage figures, so a prompt can be sized without
// waiting on a round trip. cl100k_base is a close enough approximation across providers
// for this purpose; concrete provider usage always wins once available.
func EstimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Fall back to a conservative chars/4 heuristic if the encoding
		// table can't be loaded (e.g. offline test environment with no
		// cached BPE file).
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
