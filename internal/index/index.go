// Package index stores chunk embeddings and serves nearest-neighbor
// search. Two implementations share one contract: a brute-force in-memory
// index persisted to a local two-file artifact, and a Qdrant-backed index
// for deployments with an external vector service.
package index

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the index cannot be served: the persisted
	// artifact is missing or corrupt, or the backing service is down.
	// Callers must distinguish this from an empty-but-healthy index.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrDimensionMismatch indicates a vector whose dimension differs
	// from the index's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Metadata is the per-entry snapshot stored alongside each vector. Text
// holds the full chunk text so retrieval can build prompt context without
// a second lookup.
type Metadata struct {
	DocID string `json:"doc_id"`
	Field string `json:"field"`
	Seq   int    `json:"seq"`
	Text  string `json:"text"`
}

// Hit is one search result, most similar first.
type Hit struct {
	ChunkID string
	Score   float64
	Meta    Metadata
}

// Store is the contract the retriever and build pipeline depend on.
// Swapping the local index for an external service only requires another
// implementation of this interface.
type Store interface {
	// Add appends one entry. Vectors are normalized at insertion so
	// search is cosine-consistent regardless of embedding magnitude.
	Add(ctx context.Context, chunkID string, vector []float32, meta Metadata) error

	// AddBatch appends parallel slices of entries in order.
	AddBatch(ctx context.Context, chunkIDs []string, vectors [][]float32, metas []Metadata) error

	// Search returns up to k hits ordered by decreasing similarity,
	// ties broken by lowest chunk ID. k must be >= 1; an index holding
	// fewer than k entries returns all of them.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)

	// Count reports the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Clear removes all entries, for full rebuilds.
	Clear(ctx context.Context) error
}
