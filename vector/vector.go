package vector

import (
	"context"
	"math"
)

// Embedding represents a stored vector with its payload and provenance.
type Embedding struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Match is a similarity search hit.
type Match struct {
	Embedding  *Embedding
	Similarity float32
}

// Store defines the interface for vector storage and similarity search.
// Filters match against embedding metadata with exact equality; a nil filter
// map matches everything.
type Store interface {
	// Add inserts or replaces an embedding.
	Add(ctx context.Context, embedding *Embedding) error

	// Search finds the topK embeddings most similar to the query vector.
	Search(ctx context.Context, queryVector []float32, topK int, filters map[string]any) ([]Match, error)

	// Count returns the number of stored embeddings.
	Count(ctx context.Context) (int, error)

	// Clear removes all embeddings.
	Clear(ctx context.Context) error
}

// Embedder defines the interface for creating embeddings from text
type Embedder interface {
	// Embed converts text to a vector embedding
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension return number of embedding dimensions
	Dimension() int
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB))+1e-8)
}

// Normalize scales the vector to unit length (L2 norm).
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// MatchesFilters reports whether the embedding metadata satisfies every filter.
func MatchesFilters(emb *Embedding, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	if emb == nil || emb.Metadata == nil {
		return false
	}
	for k, want := range filters {
		got, ok := emb.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
