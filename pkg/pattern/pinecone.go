package pattern

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
)

// PineconeConfig configures the alternate remote VectorBackend, selected
// with TRINITY_STORAGE_BACKEND=remote, TRINITY_VECTOR_BACKEND=pinecone.
type PineconeConfig struct {
	APIKey    string
	Host      string
	IndexName string
}

// PineconeBackend implements VectorBackend against a Pinecone index,
// grounded on the teacher's pkg/vector.PineconeProvider.
type PineconeBackend struct {
	client    *pinecone.Client
	indexName string
}

// NewPineconeBackend connects to Pinecone. The index itself is assumed to
// already exist (Pinecone index creation is an account-level, asynchronous
// operation out of scope here, matching the teacher's provider which also
// never calls CreateIndex).
func NewPineconeBackend(cfg PineconeConfig) (*PineconeBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pattern: pinecone API key is required")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, &BackendError{Op: "connect", Err: err}
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "trinity-patterns"
	}

	return &PineconeBackend{client: client, indexName: indexName}, nil
}

func (p *PineconeBackend) Name() string { return "pinecone" }

func (p *PineconeBackend) conn(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := p.client.DescribeIndex(ctx, p.indexName)
	if err != nil {
		return nil, &BackendError{Op: "describe_index", Err: err}
	}
	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, &BackendError{Op: "index_connection", Err: err}
	}
	return conn, nil
}

func (p *PineconeBackend) Upsert(ctx context.Context, id string, vector []float32) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.UpsertVectors(ctx, []*pinecone.Vector{{Id: id, Values: vector}}); err != nil {
		return &BackendError{Op: "upsert", Err: err}
	}
	return nil
}

func (p *PineconeBackend) Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	conn, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if topK <= 0 {
		topK = 10
	}
	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector: vector,
		TopK:   uint32(topK),
	})
	if err != nil {
		return nil, &BackendError{Op: "search", Err: err}
	}

	out := make([]VectorMatch, 0, len(res.Matches))
	for _, m := range res.Matches {
		out = append(out, VectorMatch{ID: m.Vector.Id, Similarity: float64(m.Score)})
	}
	return out, nil
}

func (p *PineconeBackend) Delete(ctx context.Context, id string) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return &BackendError{Op: "delete", Err: err}
	}
	return nil
}

func (p *PineconeBackend) Close() error { return nil }

var _ VectorBackend = (*PineconeBackend)(nil)
