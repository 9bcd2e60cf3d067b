package pattern

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the remote Qdrant-backed VectorBackend, selected
// with TRINITY_STORAGE_BACKEND=remote, TRINITY_VECTOR_BACKEND=qdrant.
type QdrantConfig struct {
	Host      string
	Port      int
	APIKey    string
	UseTLS    bool
	Dimension int
}

// QdrantBackend implements VectorBackend against a Qdrant cluster, grounded
// on the teacher's pkg/vector.QdrantProvider.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

const qdrantCollection = "trinity_patterns"

// NewQdrantBackend dials a Qdrant cluster and ensures the patterns
// collection exists.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 256
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, &BackendError{Op: "connect", Err: err}
	}

	exists, err := client.CollectionExists(ctx, qdrantCollection)
	if err != nil {
		return nil, &BackendError{Op: "collection_exists", Err: err}
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: qdrantCollection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return nil, &BackendError{Op: "create_collection", Err: err}
		}
	}

	return &QdrantBackend{client: client, collection: qdrantCollection, dimension: cfg.Dimension}, nil
}

func (q *QdrantBackend) Name() string { return "qdrant" }

func (q *QdrantBackend) Upsert(ctx context.Context, id string, vector []float32) error {
	payloadVal, err := qdrant.NewValue(id)
	if err != nil {
		return &BackendError{Op: "upsert", Err: err}
	}
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(idToNum(id)),
		Vectors: qdrant.NewVectors(vector...),
		Payload: map[string]*qdrant.Value{"pattern_id": payloadVal},
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return &BackendError{Op: "upsert", Err: err}
	}
	return nil
}

func (q *QdrantBackend) Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	res, err := q.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &BackendError{Op: "search", Err: err}
	}

	out := make([]VectorMatch, 0, len(res.Result))
	for _, r := range res.Result {
		id := r.Payload["pattern_id"].GetStringValue()
		out = append(out, VectorMatch{ID: id, Similarity: float64(r.Score)})
	}
	return out, nil
}

func (q *QdrantBackend) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDNum(idToNum(id))}},
			},
		},
	})
	if err != nil {
		return &BackendError{Op: "delete", Err: err}
	}
	return nil
}

func (q *QdrantBackend) Close() error { return q.client.Close() }

// idToNum maps a pattern id (a UUID string) onto the uint64 numeric point id
// Qdrant also accepts; the canonical string id is kept in the payload for
// lookups, so this only needs to be a stable, collision-resistant function
// of id, not reversible.
func idToNum(id string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= 1099511628211
	}
	return h
}

var _ VectorBackend = (*QdrantBackend)(nil)
