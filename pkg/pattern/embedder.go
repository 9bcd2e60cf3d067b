package pattern

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a fixed-dimension vector for semantic search.
// No LLM-backed embedder ships with this module (pkg/llmclient has no
// embedding call); Embedder is the seam a caller wires a real provider
// through.
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder is a dependency-free fallback embedder: it hashes each
// token into a fixed-width bag-of-words vector and L2-normalizes it, so
// cosine similarity between two hash embeddings approximates lexical
// overlap. There is no third-party library in the example corpus for
// embedding generation without talking to a model provider — every example
// embedder (ollama, openai, cohere) round-trips to an external service, which
// is exactly the LLM-provider surface the spec places out of scope. Using
// this instead of fabricating a fake provider keeps semantic search
// functional (if approximate) with zero network dependency; a real
// embedder satisfying the same interface can be substituted without
// touching the rest of the package.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given
// dimension (defaults to 256 when dim <= 0).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	tokens := tokenize(text)
	for _, tok := range tokens {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(tok))
		idx := int(hasher.Sum32()) % h.dim
		if idx < 0 {
			idx += h.dim
		}
		vec[idx] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, clamped to [0,1] (embeddings used here are non-negative, so
// negative cosine similarity never arises in practice, but we clamp anyway
// for callers that substitute a different embedder).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
