// Package retriever turns a free-text query into the most relevant source
// documents: embed once, over-fetch raw chunk hits, collapse to unique
// documents.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/index"
)

const (
	// DefaultMinScore is the similarity floor below which a chunk hit is
	// discarded. Calibrated for local nomic-style embeddings; override
	// per deployment rather than trusting a universal cutoff.
	DefaultMinScore = 0.35

	// overfetchFactor asks the index for this many times k raw chunk
	// hits. Multiple chunks from one document frequently dominate the
	// raw top-k; over-fetching keeps topical diversity after collapsing.
	overfetchFactor = 3
)

// Embedder embeds a query into the index's vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the index contract retrieval needs.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error)
}

// Resolver maps a document ID to its full record for citation display.
type Resolver interface {
	Resolve(id string) (docstore.Document, bool)
}

// Result is one retrieved document with its best-scoring chunk.
type Result struct {
	Document docstore.Document
	Field    string
	Snippet  string
	Score    float64
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMinScore overrides the similarity floor.
func WithMinScore(score float64) Option {
	return func(r *Retriever) { r.minScore = score }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// Retriever composes an embedder, an index and a document resolver.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	resolver Resolver
	minScore float64
	logger   *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, resolver Resolver, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		searcher: searcher,
		resolver: resolver,
		minScore: DefaultMinScore,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k unique documents ordered by their best chunk's
// similarity to the query. Hits below the similarity floor are dropped; an
// empty result is a valid low-confidence outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.searcher.Search(ctx, vector, k*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	// Collapse chunk hits to unique documents, keeping each document's
	// highest-scoring chunk as its representative snippet. Hits arrive
	// ordered by score, so first-seen wins.
	best := make(map[string]index.Hit)
	order := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < r.minScore {
			continue
		}
		if _, seen := best[hit.Meta.DocID]; !seen {
			best[hit.Meta.DocID] = hit
			order = append(order, hit.Meta.DocID)
		}
	}
	if len(order) > k {
		order = order[:k]
	}

	results := make([]Result, 0, len(order))
	for _, docID := range order {
		hit := best[docID]
		doc, ok := r.resolver.Resolve(docID)
		if !ok {
			// Index entry outlived its document; degrade to a label.
			r.logger.Warn("retrieved chunk references unknown document", "doc_id", docID, "chunk_id", hit.ChunkID)
			doc = docstore.Document{ID: docID, Name: docID, Title: docID}
		}
		results = append(results, Result{
			Document: doc,
			Field:    hit.Meta.Field,
			Snippet:  hit.Meta.Text,
			Score:    hit.Score,
		})
	}

	r.logger.Debug("retrieved documents", "query_len", len(query), "raw_hits", len(hits), "documents", len(results))
	return results, nil
}
