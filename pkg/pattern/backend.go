package pattern

import "context"

// VectorMatch is a raw similarity hit from a VectorBackend, before tag and
// recency blending.
type VectorMatch struct {
	ID         string
	Similarity float64 // in [0,1]
}

// VectorBackend stores and queries embeddings for the Pattern Store. It
// mirrors the teacher's pkg/vector.Provider shape (Upsert/Search/Delete)
// narrowed to what the pattern store needs: patterns don't use metadata
// filtering at the vector layer, since tag and recency scoring happen in
// pkg/pattern itself.
type VectorBackend interface {
	Name() string
	Upsert(ctx context.Context, id string, vector []float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
