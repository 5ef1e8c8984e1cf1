package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medassist/medrag/internal/chunker"
	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/generator"
	"github.com/medassist/medrag/internal/index"
	"github.com/medassist/medrag/internal/pipeline"
	"github.com/medassist/medrag/internal/retriever"
)

type fakeRetriever struct {
	results []retriever.Result
	err     error
	calls   int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]retriever.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakeGenerator struct {
	text    string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts generator.Options) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func fluResult() retriever.Result {
	return retriever.Result{
		Document: docstore.Document{
			ID:    "flu",
			Title: "Influenza",
			URL:   "https://example.org/flu",
		},
		Field:   "symptoms",
		Snippet: "Fever, chills and muscle aches.",
		Score:   0.87,
	}
}

// TestAsk_GeneratesWithCitations tests the full answer path.
func TestAsk_GeneratesWithCitations(t *testing.T) {
	ret := &fakeRetriever{results: []retriever.Result{fluResult()}}
	gen := &fakeGenerator{text: "  Flu symptoms include fever and chills.  "}
	orc := New(ret, gen, nil)

	answer, err := orc.Ask(context.Background(), "What are flu symptoms?")
	require.NoError(t, err)

	assert.Equal(t, "Flu symptoms include fever and chills.", answer.Text)
	assert.False(t, answer.Insufficient)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "flu", answer.Citations[0].DocID)
	assert.Equal(t, "Influenza", answer.Citations[0].Title)
	assert.Equal(t, "https://example.org/flu", answer.Citations[0].URL)
	assert.Equal(t, "symptoms", answer.Citations[0].Field)
	assert.InDelta(t, 0.87, answer.Citations[0].Score, 1e-9)
	assert.False(t, answer.CachedAt.IsZero())

	// The prompt carries the snippet and the question.
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Fever, chills and muscle aches.")
	assert.Contains(t, gen.prompts[0], "Question: What are flu symptoms?")
	assert.Contains(t, gen.prompts[0], "[1] Influenza (symptoms)")
}

// TestAsk_CacheHit tests that an equivalent repeat question does no
// retrieval or generation work.
func TestAsk_CacheHit(t *testing.T) {
	ret := &fakeRetriever{results: []retriever.Result{fluResult()}}
	gen := &fakeGenerator{text: "Answer."}
	orc := New(ret, gen, nil)
	ctx := context.Background()

	first, err := orc.Ask(ctx, "What Causes The Flu?")
	require.NoError(t, err)

	second, err := orc.Ask(ctx, "what causes the flu")
	require.NoError(t, err)

	assert.Equal(t, 1, ret.calls, "cache hit must skip retrieval")
	assert.Equal(t, 1, gen.calls, "cache hit must skip generation")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, orc.CacheLen())
}

// TestAsk_InsufficientContext tests the designated low-confidence answer:
// no generation, no citations, never cached.
func TestAsk_InsufficientContext(t *testing.T) {
	ret := &fakeRetriever{}
	gen := &fakeGenerator{text: "should never appear"}
	orc := New(ret, gen, nil)
	ctx := context.Background()

	answer, err := orc.Ask(ctx, "Something nobody indexed")
	require.NoError(t, err)

	assert.Equal(t, InsufficientContextAnswer, answer.Text)
	assert.True(t, answer.Insufficient)
	assert.NotNil(t, answer.Citations)
	assert.Empty(t, answer.Citations)
	assert.Equal(t, 0, gen.calls, "generator must not run without context")

	// Not cached: the same question retrieves again, so a later index
	// rebuild can start answering it.
	_, err = orc.Ask(ctx, "Something nobody indexed")
	require.NoError(t, err)
	assert.Equal(t, 2, ret.calls)
	assert.Equal(t, 0, orc.CacheLen())
}

// TestAsk_GeneratorFailureNotCached tests that failures surface and a
// retry can succeed.
func TestAsk_GeneratorFailureNotCached(t *testing.T) {
	ret := &fakeRetriever{results: []retriever.Result{fluResult()}}
	gen := &fakeGenerator{err: generator.ErrUnavailable}
	orc := New(ret, gen, nil)
	ctx := context.Background()

	_, err := orc.Ask(ctx, "What are flu symptoms?")
	require.Error(t, err)
	assert.ErrorIs(t, err, generator.ErrUnavailable)
	assert.Equal(t, 0, orc.CacheLen(), "failed answers must not be cached")

	gen.err = nil
	gen.text = "Recovered answer."
	answer, err := orc.Ask(ctx, "What are flu symptoms?")
	require.NoError(t, err)
	assert.Equal(t, "Recovered answer.", answer.Text)
	assert.Equal(t, 1, orc.CacheLen())
}

// TestAsk_EmptyQuery tests blank input rejection.
func TestAsk_EmptyQuery(t *testing.T) {
	orc := New(&fakeRetriever{}, &fakeGenerator{}, nil)

	_, err := orc.Ask(context.Background(), "   \t ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

// TestAsk_RetrieverError tests retrieval failure propagation.
func TestAsk_RetrieverError(t *testing.T) {
	ret := &fakeRetriever{err: errors.New("index down")}
	orc := New(ret, &fakeGenerator{}, nil)

	_, err := orc.Ask(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index down")
}

// TestRebuildIndex_InvalidatesCache tests that a rebuild empties the
// answer cache and runs the persist hook.
func TestRebuildIndex_InvalidatesCache(t *testing.T) {
	ret := &fakeRetriever{results: []retriever.Result{fluResult()}}
	gen := &fakeGenerator{text: "Answer."}

	idx := index.NewLocal()
	builder := pipeline.New(chunker.New(1000, 200), fakeEmbedder{}, idx, nil)

	persisted := 0
	orc := New(ret, gen, builder, WithPersist(func(ctx context.Context) error {
		persisted++
		return nil
	}))
	ctx := context.Background()

	_, err := orc.Ask(ctx, "What are flu symptoms?")
	require.NoError(t, err)
	require.Equal(t, 1, orc.CacheLen())

	docs := []docstore.Document{{
		ID:     "flu",
		Title:  "Influenza",
		URL:    "https://example.org/flu",
		Fields: []docstore.Field{{Name: "overview", Text: "A contagious respiratory illness."}},
	}}
	result, err := orc.RebuildIndex(ctx, docs)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SuccessfulDocs)
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 0, orc.CacheLen(), "rebuild must invalidate cached answers")

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestRebuildIndex_NotConfigured tests query-only deployments.
func TestRebuildIndex_NotConfigured(t *testing.T) {
	orc := New(&fakeRetriever{}, &fakeGenerator{}, nil)

	_, err := orc.RebuildIndex(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not configured"))
}
