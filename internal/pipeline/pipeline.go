// Package pipeline builds the vector index: documents are chunked,
// embedded in batches and appended to the index, with per-document
// failures reported rather than aborting the build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medassist/medrag/internal/chunker"
	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/embedding"
	"github.com/medassist/medrag/internal/index"
)

// Embedder is the batch-embedding capability the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer is the slice of the index contract the build uses.
type Writer interface {
	AddBatch(ctx context.Context, chunkIDs []string, vectors [][]float32, metas []index.Metadata) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Result summarizes one build run.
type Result struct {
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	Failed         []FailedDoc
	Duration       time.Duration
}

// FailedDoc reports a document that could not be indexed, with enough
// context to re-ingest it without a full rebuild.
type FailedDoc struct {
	DocID  string
	Title  string
	Reason string
}

// Pipeline wires chunker, embedder and index together.
type Pipeline struct {
	chunker  *chunker.Chunker
	embedder Embedder
	index    Writer
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(c *chunker.Chunker, embedder Embedder, idx Writer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{chunker: c, embedder: embedder, index: idx, logger: logger}
}

// IndexAll indexes every document. A document that fails is skipped and
// reported — except when the embedding backend itself is down, which is
// fatal for the whole build.
func (p *Pipeline) IndexAll(ctx context.Context, docs []docstore.Document) (*Result, error) {
	start := time.Now()
	result := &Result{TotalDocs: len(docs)}

	p.logger.Info("starting index build", "documents", len(docs))

	for _, doc := range docs {
		chunks, err := p.indexDocument(ctx, doc)
		if err != nil {
			if errors.Is(err, embedding.ErrUnavailable) {
				return result, fmt.Errorf("document %s: %w", doc.ID, err)
			}
			p.logger.Warn("failed to index document", "doc_id", doc.ID, "title", doc.Title, "error", err)
			result.Failed = append(result.Failed, FailedDoc{
				DocID:  doc.ID,
				Title:  doc.Title,
				Reason: err.Error(),
			})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("index build complete",
		"successful", result.SuccessfulDocs,
		"failed", len(result.Failed),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// Rebuild clears the index and re-indexes from scratch.
func (p *Pipeline) Rebuild(ctx context.Context, docs []docstore.Document) (*Result, error) {
	if err := p.index.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear index: %w", err)
	}
	return p.IndexAll(ctx, docs)
}

// indexDocument chunks, embeds and stores one document. Returns the chunk
// count.
func (p *Pipeline) indexDocument(ctx context.Context, doc docstore.Document) (int, error) {
	chunks := p.chunker.ChunkDocument(doc)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document produced no chunks")
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	metas := make([]index.Metadata, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		metas[i] = index.Metadata{
			DocID: c.DocID,
			Field: c.Field,
			Seq:   c.Seq,
			Text:  c.Text,
		}
	}

	if err := p.index.AddBatch(ctx, ids, vectors, metas); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	p.logger.Debug("indexed document", "doc_id", doc.ID, "title", doc.Title, "chunks", len(chunks))
	return len(chunks), nil
}
