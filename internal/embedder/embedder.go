// Package embedder implements internal/retriever.Embedder against OpenAI's
// embeddings endpoint, following the same request/retry shape as
// internal/llm's chat adapters (httpclient.Client, bearer auth, JSON in and
// out) rather than inventing a separate HTTP convention for one more
// outbound call.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aideny-kr/chatcore/internal/httpclient"
)

// OpenAIEmbedder calls OpenAI's /embeddings endpoint for a single input
// string and returns its vector. It implements internal/retriever.Embedder.
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	client  *httpclient.Client
}

// NewOpenAIEmbedder constructs an embedder against model (e.g.
// "text-embedding-3-small"). baseURL defaults to OpenAI's public endpoint.
func NewOpenAIEmbedder(apiKey, baseURL, model string, client *httpclient.Client) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/embeddings"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{apiKey: apiKey, baseURL: baseURL, model: model, client: client}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns text's embedding vector. A nil *OpenAIEmbedder is not
// valid — callers that want retrieval to degrade to keyword-only should
// instead pass a nil Embedder interface value to retriever.New.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	respBody, status, err := e.client.PostJSON(req, body)
	if err != nil {
		return nil, fmt.Errorf("embedder: request: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("embedder: unmarshal response (status %d): %w", status, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedder: api error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedder: empty embedding data")
	}
	return resp.Data[0].Embedding, nil
}
