package pattern

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemBackend is the embedded, pure-Go local VectorBackend, used when
// TRINITY_STORAGE_BACKEND=local (the module default). Grounded on the
// teacher's pkg/vector.ChromemProvider: chromem-go collections take
// pre-computed embeddings via an identity EmbeddingFunc, since the pattern
// store computes embeddings itself through pkg/pattern.Embedder.
type ChromemBackend struct {
	db          *chromem.DB
	collection  *chromem.Collection
	persistPath string
	mu          sync.Mutex
}

// NewChromemBackend opens (or creates) a chromem-go database persisted under
// dir/vectors.gob, matching the teacher's gob-persistence convention.
func NewChromemBackend(dir string) (*ChromemBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pattern: create chromem dir: %w", err)
	}

	dbPath := filepath.Join(dir, "vectors.gob")
	var db *chromem.DB
	if _, err := os.Stat(dbPath); err == nil {
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("pattern: chromem embedding func invoked, vectors must be pre-computed")
	}

	col, err := db.GetOrCreateCollection("patterns", nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("pattern: get/create chromem collection: %w", err)
	}

	return &ChromemBackend{db: db, collection: col, persistPath: dbPath}, nil
}

func (c *ChromemBackend) Name() string { return "chromem" }

func (c *ChromemBackend) Upsert(ctx context.Context, id string, vector []float32) error {
	doc := chromem.Document{ID: id, Embedding: vector}
	if err := c.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("pattern: chromem upsert: %w", err)
	}
	return c.persist()
}

func (c *ChromemBackend) Search(ctx context.Context, vector []float32, topK int) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	if topK > c.collection.Count() {
		topK = c.collection.Count()
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := c.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pattern: chromem search: %w", err)
	}

	out := make([]VectorMatch, 0, len(results))
	for _, r := range results {
		out = append(out, VectorMatch{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return out, nil
}

func (c *ChromemBackend) Delete(ctx context.Context, id string) error {
	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("pattern: chromem delete: %w", err)
	}
	return c.persist()
}

func (c *ChromemBackend) Close() error { return c.persist() }

func (c *ChromemBackend) persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	//nolint:staticcheck // matches teacher's chromem provider, which also uses the deprecated Export path
	if err := c.db.Export(c.persistPath, false, ""); err != nil {
		return fmt.Errorf("pattern: persist chromem db: %w", err)
	}
	return nil
}

var _ VectorBackend = (*ChromemBackend)(nil)
