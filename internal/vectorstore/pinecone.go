package vectorstore

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeProvider is the managed-cloud backend: collection name maps to a
// Pinecone index name.
type PineconeProvider struct {
	client    *pinecone.Client
	indexName string
}

// PineconeConfig configures the Pinecone backend.
type PineconeConfig struct {
	APIKey    string
	Host      string
	IndexName string
}

// NewPineconeProvider constructs a Pinecone-backed Provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vectorstore: pinecone api key is required")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: pinecone client: %w", err)
	}
	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "chatcore-index"
	}
	return &PineconeProvider{client: client, indexName: indexName}, nil
}

func (p *PineconeProvider) Name() string { return "pinecone" }

func (p *PineconeProvider) index(ctx context.Context, collection string) (*pinecone.IndexConnection, error) {
	name := collection
	if name == "" {
		name = p.indexName
	}
	desc, err := p.client.DescribeIndex(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: describe index %s: %w", name, err)
	}
	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: desc.Host})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: index connection %s: %w", name, err)
	}
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	var meta *pinecone.Metadata
	if len(metadata) > 0 {
		anyMeta := make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			anyMeta[k] = v
		}
		meta, err = structpb.NewStruct(anyMeta)
		if err != nil {
			return fmt.Errorf("vectorstore: pinecone metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{Id: id, Values: vector, Metadata: meta}})
	if err != nil {
		return fmt.Errorf("vectorstore: pinecone upsert: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metaFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		anyFilter := make(map[string]interface{}, len(filter))
		for k, v := range filter {
			anyFilter[k] = v
		}
		metaFilter, err = structpb.NewStruct(anyFilter)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: pinecone filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
		IncludeValues:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: pinecone query: %w", err)
	}
	return convertPineconeMatches(resp.Matches), nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection, id string) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("vectorstore: pinecone delete: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	conn, err := p.index(ctx, collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	anyFilter := make(map[string]interface{}, len(filter))
	for k, v := range filter {
		anyFilter[k] = v
	}
	metaFilter, err := structpb.NewStruct(anyFilter)
	if err != nil {
		return fmt.Errorf("vectorstore: pinecone filter: %w", err)
	}
	if err := conn.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return fmt.Errorf("vectorstore: pinecone delete by filter: %w", err)
	}
	return nil
}

func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, _ int) error {
	name := collection
	if name == "" {
		name = p.indexName
	}
	indexes, err := p.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: pinecone list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return nil
		}
	}
	return fmt.Errorf("vectorstore: pinecone index %q does not exist; create it out of band", name)
}

func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	return fmt.Errorf("vectorstore: pinecone index deletion must happen out of band")
}

func (p *PineconeProvider) Close() error { return nil }

func convertPineconeMatches(matches []*pinecone.ScoredVector) []Result {
	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Vector == nil {
			continue
		}
		metadata := map[string]any{}
		if m.Vector.Metadata != nil {
			for k, v := range m.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}
		content, _ := metadata["content"].(string)
		out = append(out, Result{ID: m.Vector.Id, Content: content, Vector: m.Vector.Values, Metadata: metadata, Score: m.Score})
	}
	return out
}

var _ Provider = (*PineconeProvider)(nil)
