// Package retriever implements the vector & keyword retriever: an Embedder capability gates whether a query runs through
// internal/vectorstore similarity search; when no embedder is configured
// (or a vector search turns up nothing), retrieval degrades to a
// case-folded keyword scan over internal/storage. Results are scoped to a
// tenant's own chunks union the system-owned domain-knowledge corpus, and
// every call is capped at 30 results regardless of what the caller asks for.
package retriever

import (
	"context"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/vectorstore"
)

// maxTopK is the hard retrieval cap, independent of any per-call topK the
// caller requests.
const maxTopK = 30

const (
	docChunksCollection      = "doc_chunks"
	domainKnowledgeCollection = "domain_knowledge"
)

// Embedder is the narrow capability the retriever needs from an LLM
// provider or a dedicated embedding model. A nil Embedder (or one that
// errors) causes Retrieve to fall back to keyword search rather than fail
// the turn.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunk is one retrieved passage, ready to become a model.Citation.
type Chunk struct {
	SourceType string // doc_chunk | domain_knowledge
	SourceID   string
	Title      string
	Content    string
	Score      float32
}

// Retriever combines a vector backend with a SQL-backed keyword fallback.
type Retriever struct {
	vector   vectorstore.Provider
	embedder Embedder
	keyword  *KeywordSearcher
}

// New constructs a Retriever. vector and embedder may be nil (or
// vectorstore.NilProvider) to run keyword-only.
func New(vector vectorstore.Provider, embedder Embedder, keyword *KeywordSearcher) *Retriever {
	if vector == nil {
		vector = vectorstore.NilProvider{}
	}
	return &Retriever{vector: vector, embedder: embedder, keyword: keyword}
}

// Retrieve finds the topK passages most relevant to query, scoped to
// tenantID's own chunks union the system domain-knowledge corpus, optionally
// restricted to chunks whose source path has sourcePrefix.
func (r *Retriever) Retrieve(ctx context.Context, tenantID uuid.UUID, query string, topK int, sourcePrefix string) ([]Chunk, error) {
	if topK <= 0 || topK > maxTopK {
		topK = maxTopK
	}

	if r.embedder != nil {
		if chunks, err := r.retrieveVector(ctx, tenantID, query, topK, sourcePrefix); err == nil && len(chunks) > 0 {
			return chunks, nil
		}
	}

	if r.keyword == nil {
		return nil, nil
	}
	return r.keyword.Search(ctx, tenantID, query, topK, sourcePrefix)
}

func (r *Retriever) retrieveVector(ctx context.Context, tenantID uuid.UUID, query string, topK int, sourcePrefix string) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	tenantFilter := map[string]any{"tenant_id": tenantID.String()}
	if sourcePrefix != "" {
		tenantFilter["source_path_prefix"] = sourcePrefix
	}

	tenantResults, err := r.vector.SearchWithFilter(ctx, docChunksCollection, vec, topK, tenantFilter)
	if err != nil {
		return nil, err
	}
	domainResults, err := r.vector.Search(ctx, domainKnowledgeCollection, vec, topK)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(tenantResults)+len(domainResults))
	for _, res := range tenantResults {
		chunks = append(chunks, toChunk("doc_chunk", res))
	}
	for _, res := range domainResults {
		chunks = append(chunks, toChunk("domain_knowledge", res))
	}

	sortByScoreDesc(chunks)
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}

func toChunk(sourceType string, res vectorstore.Result) Chunk {
	title, _ := res.Metadata["title"].(string)
	return Chunk{SourceType: sourceType, SourceID: res.ID, Title: title, Content: res.Content, Score: res.Score}
}

func sortByScoreDesc(chunks []Chunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].Score > chunks[j-1].Score; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}
