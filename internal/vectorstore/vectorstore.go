// Package vectorstore is the vector-database abstraction underlying the
// retriever: one Provider interface with chromem-go, Pinecone, and Qdrant
// implementations, selected by config through a small factory. Chunks are
// pre-embedded by an internal/llm-adjacent Embedder before reaching this
// package — providers only ever see a vector, never raw text.
package vectorstore

import (
	"context"
	"fmt"
)

// Result is one scored match from a similarity search.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Provider is the storage-agnostic vector backend surface. Every
// implementation treats "collection" as a namespace — this core uses one
// collection per chunk kind (doc_chunks, domain_knowledge) and relies on a
// tenant_id field in Metadata plus SearchWithFilter for tenant scoping,
// since Pinecone/Qdrant don't offer row-level security the way the SQL
// store does.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// NilProvider is a no-op Provider for deployments that disable vector
// retrieval entirely and fall back to keyword search.
type NilProvider struct{}

func (NilProvider) Name() string { return "nil" }
func (NilProvider) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return nil
}
func (NilProvider) Search(context.Context, string, []float32, int) ([]Result, error) {
	return nil, nil
}
func (NilProvider) SearchWithFilter(context.Context, string, []float32, int, map[string]any) ([]Result, error) {
	return nil, nil
}
func (NilProvider) Delete(context.Context, string, string) error            { return nil }
func (NilProvider) DeleteByFilter(context.Context, string, map[string]any) error { return nil }
func (NilProvider) CreateCollection(context.Context, string, int) error     { return nil }
func (NilProvider) DeleteCollection(context.Context, string) error          { return nil }
func (NilProvider) Close() error                                            { return nil }

var _ Provider = NilProvider{}

// BackendType selects which concrete Provider NewProvider constructs.
type BackendType string

const (
	BackendChromem  BackendType = "chromem"
	BackendPinecone BackendType = "pinecone"
	BackendQdrant   BackendType = "qdrant"
	BackendNone     BackendType = "none"
)

// Config selects and configures one vector backend.
type Config struct {
	Backend  BackendType
	Chromem  ChromemConfig
	Pinecone PineconeConfig
	Qdrant   QdrantConfig
}

// NewProvider constructs the configured Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return NilProvider{}, nil
	case BackendChromem:
		return NewChromemProvider(cfg.Chromem)
	case BackendPinecone:
		return NewPineconeProvider(cfg.Pinecone)
	case BackendQdrant:
		return NewQdrantProvider(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("vectorstore: unknown backend %q", cfg.Backend)
	}
}
