package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/vectorstore"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

func TestRetrieve_FallsBackToKeywordWhenNoEmbedder(t *testing.T) {
	db := setupKeywordDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO doc_chunks (id, tenant_id, source_path, title, content) VALUES (?, ?, '/a.md', 'A', 'refund policy details')`,
		uuid.NewString(), tenantID)
	require.NoError(t, err)

	r := New(nil, nil, NewKeywordSearcher(db))
	chunks, err := r.Retrieve(context.Background(), tenantID, "refund policy", 10, "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestRetrieve_FallsBackToKeywordWhenVectorSearchEmpty(t *testing.T) {
	db := setupKeywordDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO doc_chunks (id, tenant_id, source_path, title, content) VALUES (?, ?, '/a.md', 'A', 'refund policy details')`,
		uuid.NewString(), tenantID)
	require.NoError(t, err)

	r := New(vectorstore.NilProvider{}, fakeEmbedder{vector: []float32{1, 0, 0}}, NewKeywordSearcher(db))
	chunks, err := r.Retrieve(context.Background(), tenantID, "refund policy", 10, "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestRetrieve_UsesVectorResultsWhenAvailable(t *testing.T) {
	vp, err := vectorstore.NewChromemProvider(vectorstore.ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vp.Close() })

	tenantID := uuid.New()
	ctx := context.Background()
	require.NoError(t, vp.Upsert(ctx, "doc_chunks", "chunk-1", []float32{1, 0, 0}, map[string]any{
		"content": "vector match content", "title": "Vector Doc", "tenant_id": tenantID.String(),
	}))

	r := New(vp, fakeEmbedder{vector: []float32{1, 0, 0}}, nil)
	chunks, err := r.Retrieve(ctx, tenantID, "anything", 5, "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Vector Doc", chunks[0].Title)
}

func TestRetrieve_CapsTopKAt30(t *testing.T) {
	db := setupKeywordDB(t)
	tenantID := uuid.New()
	for i := 0; i < 40; i++ {
		_, err := db.Exec(`INSERT INTO doc_chunks (id, tenant_id, source_path, title, content) VALUES (?, ?, '/a.md', 'A', 'widget inventory count report')`,
			uuid.NewString(), tenantID)
		require.NoError(t, err)
	}

	r := New(nil, nil, NewKeywordSearcher(db))
	chunks, err := r.Retrieve(context.Background(), tenantID, "widget inventory count", 100, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chunks), maxTopK)
}
