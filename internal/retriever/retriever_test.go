package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/medassist/medrag/internal/docstore"
	"github.com/medassist/medrag/internal/index"
)

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

type fakeSearcher struct {
	hits   []index.Hit
	err    error
	gotK   int
	called int
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	f.called++
	f.gotK = k
	return f.hits, f.err
}

type fakeResolver map[string]docstore.Document

func (f fakeResolver) Resolve(id string) (docstore.Document, bool) {
	doc, ok := f[id]
	return doc, ok
}

func hit(chunkID, docID string, score float64) index.Hit {
	return index.Hit{
		ChunkID: chunkID,
		Score:   score,
		Meta:    index.Metadata{DocID: docID, Field: "overview", Text: "snippet " + chunkID},
	}
}

// TestRetrieve_CollapsesToDocuments tests that multiple chunk hits from
// one document collapse to its best-scoring chunk.
func TestRetrieve_CollapsesToDocuments(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{
		hit("flu:overview:0", "flu", 0.92),
		hit("flu:symptoms:1", "flu", 0.88),
		hit("cold:overview:0", "cold", 0.81),
		hit("flu:causes:0", "flu", 0.77),
		hit("asthma:overview:0", "asthma", 0.64),
	}}
	resolver := fakeResolver{
		"flu":    {ID: "flu", Title: "Influenza", URL: "https://example.org/flu"},
		"cold":   {ID: "cold", Title: "Common Cold", URL: "https://example.org/cold"},
		"asthma": {ID: "asthma", Title: "Asthma", URL: "https://example.org/asthma"},
	}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}

	r := New(embedder, searcher, resolver)
	results, err := r.Retrieve(context.Background(), "flu symptoms", 2)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if embedder.calls != 1 {
		t.Errorf("Expected exactly 1 embedding call, got %d", embedder.calls)
	}
	// Over-fetch so collapsing still yields k unique documents.
	if searcher.gotK != 6 {
		t.Errorf("Expected over-fetched k=6, got %d", searcher.gotK)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(results))
	}
	if results[0].Document.ID != "flu" {
		t.Errorf("First: expected flu, got %q", results[0].Document.ID)
	}
	if results[0].Snippet != "snippet flu:overview:0" {
		t.Errorf("Expected best chunk's snippet, got %q", results[0].Snippet)
	}
	if results[0].Score != 0.92 {
		t.Errorf("Expected best chunk's score 0.92, got %f", results[0].Score)
	}
	if results[1].Document.ID != "cold" {
		t.Errorf("Second: expected cold, got %q", results[1].Document.ID)
	}
}

// TestRetrieve_MinScoreFilter tests that hits below the floor are dropped
// and an all-filtered search is a valid empty outcome.
func TestRetrieve_MinScoreFilter(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{
		hit("a:overview:0", "a", 0.50),
		hit("b:overview:0", "b", 0.20),
	}}
	resolver := fakeResolver{"a": {ID: "a", Title: "A"}, "b": {ID: "b", Title: "B"}}

	r := New(&fakeEmbedder{vector: []float32{1}}, searcher, resolver, WithMinScore(0.4))
	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "a" {
		t.Fatalf("Expected only document a, got %+v", results)
	}

	// Raise the floor above everything.
	r = New(&fakeEmbedder{vector: []float32{1}}, searcher, resolver, WithMinScore(0.99))
	results, err = r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty result below threshold, got %d", len(results))
	}
}

// TestRetrieve_EmptyIndex tests that no hits is not an error.
func TestRetrieve_EmptyIndex(t *testing.T) {
	r := New(&fakeEmbedder{vector: []float32{1}}, &fakeSearcher{}, fakeResolver{})
	results, err := r.Retrieve(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

// TestRetrieve_UnresolvableDocument tests the degraded citation when an
// index entry outlives its source document.
func TestRetrieve_UnresolvableDocument(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{hit("gone:overview:0", "gone", 0.9)}}

	r := New(&fakeEmbedder{vector: []float32{1}}, searcher, fakeResolver{})
	results, err := r.Retrieve(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Document.ID != "gone" || results[0].Document.Title != "gone" {
		t.Errorf("Expected placeholder document labeled by ID, got %+v", results[0].Document)
	}
}

// TestRetrieve_Errors tests propagation of embed and search failures and
// invalid k.
func TestRetrieve_Errors(t *testing.T) {
	ctx := context.Background()
	resolver := fakeResolver{}

	r := New(&fakeEmbedder{err: errors.New("backend down")}, &fakeSearcher{}, resolver)
	if _, err := r.Retrieve(ctx, "q", 1); err == nil {
		t.Error("Expected embed error to propagate")
	}

	r = New(&fakeEmbedder{vector: []float32{1}}, &fakeSearcher{err: errors.New("index down")}, resolver)
	if _, err := r.Retrieve(ctx, "q", 1); err == nil {
		t.Error("Expected search error to propagate")
	}

	r = New(&fakeEmbedder{vector: []float32{1}}, &fakeSearcher{}, resolver)
	if _, err := r.Retrieve(ctx, "q", 0); err == nil {
		t.Error("Expected error for k < 1")
	}
}
