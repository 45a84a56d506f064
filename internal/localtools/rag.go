// Package localtools wires the governed tool registry's in-process
// executors: the RAG agent's rag_search, and the workspace agent's
// filesystem tools, as small, single-purpose executors registered against
// internal/tool.Registry at startup rather than method-dispatch on a god
// object.
package localtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aideny-kr/chatcore/internal/retriever"
	"github.com/aideny-kr/chatcore/internal/tool"
)

const defaultTopK = 8

// RAGSearchDefinition wraps a Retriever as the rag_search tool the RAG and
// workspace specialists share.
func RAGSearchDefinition(r *retriever.Retriever) tool.Definition {
	return tool.Definition{
		Name:        "rag_search",
		Description: "Search stored documentation and domain-knowledge chunks for passages relevant to a query.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":         map[string]any{"type": "string"},
				"source_filter": map[string]any{"type": "string", "description": "Optional source-path prefix to narrow the search."},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, tc tool.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("rag_search: query is required")
			}
			sourceFilter, _ := params["source_filter"].(string)

			chunks, err := r.Retrieve(ctx, tc.TenantID, query, defaultTopK, sourceFilter)
			if err != nil {
				return nil, fmt.Errorf("rag_search: %w", err)
			}

			results := make([]map[string]any, 0, len(chunks))
			for _, c := range chunks {
				results = append(results, map[string]any{
					"source_type": c.SourceType,
					"source_id":   c.SourceID,
					"title":       c.Title,
					"content":     c.Content,
					"score":       c.Score,
				})
			}
			return map[string]any{"results": results, "count": len(results)}, nil
		},
	}
}
