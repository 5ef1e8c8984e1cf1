// Package rag composes retrieval, generation and the query cache into the
// end-to-end "ask a question, get a sourced answer" operation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medassist/medrag/internal/cache"
	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/generator"
	"github.com/medassist/medrag/internal/pipeline"
	"github.com/medassist/medrag/internal/retriever"
)

// ErrEmptyQuery rejects blank questions before any work happens.
var ErrEmptyQuery = errors.New("empty query")

// InsufficientContextAnswer is the designated low-confidence payload
// returned when retrieval finds nothing sufficiently relevant. It carries
// no citations; fabricating them is exactly what it prevents.
const InsufficientContextAnswer = "I don't have enough information to answer that question."

// DefaultTopK is the number of source documents composed into the prompt.
const DefaultTopK = 3

// Citation labels one source document backing an answer.
type Citation struct {
	DocID string  `json:"doc_id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Field string  `json:"field"`
	Score float64 `json:"score"`
}

// Answer is the orchestrator's result. Insufficient marks the designated
// low-confidence outcome, distinguishable from a generated answer.
type Answer struct {
	Text         string     `json:"text"`
	Citations    []Citation `json:"citations"`
	Insufficient bool       `json:"insufficient"`
	CachedAt     time.Time  `json:"cached_at"`
}

// Retriever is the document-retrieval capability.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retriever.Result, error)
}

// Generator is the text-completion capability. The backing model is an
// external, possibly slow, possibly nondeterministic black box.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts generator.Options) (string, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTopK sets how many documents feed the prompt.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithCacheCapacity bounds the query cache.
func WithCacheCapacity(n int) Option {
	return func(o *Orchestrator) { o.answers = cache.New[Answer](n) }
}

// WithGenerateOptions overrides the generation knobs.
func WithGenerateOptions(opts generator.Options) Option {
	return func(o *Orchestrator) { o.genOpts = opts }
}

// WithPersist registers a hook run after a successful rebuild, typically
// saving the local index artifact.
func WithPersist(persist func(context.Context) error) Option {
	return func(o *Orchestrator) { o.persist = persist }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator is stateless per call aside from the shared cache and the
// index behind the retriever; it is safe for concurrent callers.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	builder   *pipeline.Pipeline
	answers   *cache.Cache[Answer]
	topK      int
	genOpts   generator.Options
	persist   func(context.Context) error
	logger    *slog.Logger
}

// New creates an Orchestrator. builder may be nil for query-only
// deployments; RebuildIndex then returns an error.
func New(r Retriever, g Generator, builder *pipeline.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever: r,
		generator: g,
		builder:   builder,
		answers:   cache.New[Answer](cache.DefaultCapacity),
		topK:      DefaultTopK,
		genOpts:   generator.DefaultOptions(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask answers a free-text question with source citations.
//
// Cache hits return immediately with no embedding or generation work.
// Zero retrieved documents yield the designated insufficient-context
// answer without invoking the generator. Generator failures are surfaced
// and never cached, so the caller can retry.
func (o *Orchestrator) Ask(ctx context.Context, query string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, ErrEmptyQuery
	}

	if answer, ok := o.answers.Get(query); ok {
		o.logger.Debug("cache hit", "query_len", len(query))
		return answer, nil
	}

	results, err := o.retriever.Retrieve(ctx, query, o.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve: %w", err)
	}

	if len(results) == 0 {
		o.logger.Info("no sufficiently relevant context", "query_len", len(query))
		return Answer{
			Text:         InsufficientContextAnswer,
			Citations:    []Citation{},
			Insufficient: true,
			CachedAt:     time.Now(),
		}, nil
	}

	prompt := buildPrompt(query, results)
	text, err := o.generator.Generate(ctx, prompt, o.genOpts)
	if err != nil {
		return Answer{}, fmt.Errorf("generate: %w", err)
	}

	citations := make([]Citation, len(results))
	for i, res := range results {
		citations[i] = Citation{
			DocID: res.Document.ID,
			Title: res.Document.Title,
			URL:   res.Document.URL,
			Field: res.Field,
			Score: res.Score,
		}
	}

	answer := Answer{
		Text:      strings.TrimSpace(text),
		Citations: citations,
		CachedAt:  time.Now(),
	}
	o.answers.Put(query, answer)
	return answer, nil
}

// RebuildIndex clears and rebuilds the index from documents, persists the
// new artifact and invalidates the cache. The cache is invalidated even on
// a failed rebuild: the old snapshot is already gone.
func (o *Orchestrator) RebuildIndex(ctx context.Context, docs []docstore.Document) (*pipeline.Result, error) {
	if o.builder == nil {
		return nil, errors.New("index rebuild not configured")
	}
	defer o.answers.InvalidateAll()

	result, err := o.builder.Rebuild(ctx, docs)
	if err != nil {
		return result, err
	}
	if o.persist != nil {
		if err := o.persist(ctx); err != nil {
			return result, fmt.Errorf("persist index: %w", err)
		}
	}
	return result, nil
}

// InvalidateCache drops all cached answers.
func (o *Orchestrator) InvalidateCache() {
	o.answers.InvalidateAll()
}

// CacheLen reports the number of cached answers, for status reporting.
func (o *Orchestrator) CacheLen() int {
	return o.answers.Len()
}
