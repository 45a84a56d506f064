package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_NoneBackendReturnsNilProvider(t *testing.T) {
	p, err := NewProvider(Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Equal(t, "nil", p.Name())

	results, err := p.Search(context.Background(), "doc_chunks", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestChromemProvider_UpsertAndSearchRoundTrip(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "doc_chunks", "chunk-1", []float32{1, 0, 0}, map[string]any{
		"content": "refund policy applies within 30 days", "tenant_id": "t1",
	}))
	require.NoError(t, p.Upsert(ctx, "doc_chunks", "chunk-2", []float32{0, 1, 0}, map[string]any{
		"content": "shipping takes 3-5 business days", "tenant_id": "t1",
	}))

	results, err := p.Search(ctx, "doc_chunks", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-1", results[0].ID)
}

func TestChromemProvider_SearchWithFilterScopesByMetadata(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "doc_chunks", "tenant-a-chunk", []float32{1, 0, 0}, map[string]any{
		"content": "tenant a's private doc", "tenant_id": "a",
	}))
	require.NoError(t, p.Upsert(ctx, "doc_chunks", "tenant-b-chunk", []float32{1, 0, 0}, map[string]any{
		"content": "tenant b's private doc", "tenant_id": "b",
	}))

	results, err := p.SearchWithFilter(ctx, "doc_chunks", []float32{1, 0, 0}, 5, map[string]any{"tenant_id": "a"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tenant-a-chunk", results[0].ID)
}

func TestChromemProvider_DeleteRemovesDocument(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "doc_chunks", "chunk-1", []float32{1, 0, 0}, map[string]any{"content": "x"}))
	require.NoError(t, p.Delete(ctx, "doc_chunks", "chunk-1"))

	results, err := p.Search(ctx, "doc_chunks", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
