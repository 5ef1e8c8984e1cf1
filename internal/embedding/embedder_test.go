package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// newFakeBackend serves an OpenAI-compatible /embeddings endpoint. Each
// input "t<N>" embeds to the vector [N], so tests can verify ordering.
// fail429 makes the first fail429 requests return a rate-limit error.
func newFakeBackend(t *testing.T, fail429 int) (*httptest.Server, *[][]string) {
	t.Helper()

	var mu sync.Mutex
	var batches [][]string
	remaining := fail429

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		batches = append(batches, req.Input)
		rateLimited := remaining > 0
		if rateLimited {
			remaining--
		}
		mu.Unlock()

		if rateLimited {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			val := -1.0
			if n, err := strconv.Atoi(strings.TrimPrefix(text, "t")); err == nil {
				val = float64(n)
			}
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{val, 0.5},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 0, "total_tokens": 0},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &batches
}

func newTestEmbedder(t *testing.T, srv *httptest.Server, batchSize int) *Embedder {
	t.Helper()
	t.Setenv("MEDRAG_EMBEDDING_URL", srv.URL)
	t.Setenv("MEDRAG_EMBEDDING_MODEL", "test-model")
	t.Setenv("OPENAI_API_KEY", "test-key")
	return NewEmbedder(NewClient(), batchSize)
}

// TestEmbedBatch_PreservesOrder tests that results come back in input
// order even when the work is split across concurrent batches.
func TestEmbedBatch_PreservesOrder(t *testing.T) {
	srv, batches := newFakeBackend(t, 0)
	e := newTestEmbedder(t, srv, 3)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 10 {
		t.Fatalf("Expected 10 vectors, got %d", len(vecs))
	}
	for i, vec := range vecs {
		if len(vec) != 2 || vec[0] != float32(i) {
			t.Errorf("Vector %d out of order: %v", i, vec)
		}
	}
	if len(*batches) != 4 {
		t.Errorf("Expected 4 batches of size <= 3, got %d", len(*batches))
	}
}

// TestEmbedBatch_EmptyInputPlaceholder tests that empty strings are
// substituted before reaching the backend.
func TestEmbedBatch_EmptyInputPlaceholder(t *testing.T) {
	srv, batches := newFakeBackend(t, 0)
	e := newTestEmbedder(t, srv, 16)

	vecs, err := e.EmbedBatch(context.Background(), []string{"t1", "", "t3"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vecs))
	}

	sent := (*batches)[0]
	if sent[1] != "[empty]" {
		t.Errorf("Expected placeholder for empty input, backend saw %q", sent[1])
	}
}

// TestEmbedBatch_RetriesRateLimit tests that a 429 is retried and
// eventually succeeds.
func TestEmbedBatch_RetriesRateLimit(t *testing.T) {
	srv, batches := newFakeBackend(t, 1)
	e := newTestEmbedder(t, srv, 16)

	vecs, err := e.Embed(context.Background(), "t7")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if vecs[0] != 7 {
		t.Errorf("Unexpected vector: %v", vecs)
	}
	if len(*batches) < 2 {
		t.Errorf("Expected at least 2 attempts, got %d", len(*batches))
	}
}

// TestEmbedBatch_BackendError tests that hard failures wrap
// ErrUnavailable so index builds abort instead of skipping documents.
func TestEmbedBatch_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	e := newTestEmbedder(t, srv, 16)

	_, err := e.Embed(context.Background(), "t1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
}

// TestEmbedBatch_Empty tests the zero-input edge.
func TestEmbedBatch_Empty(t *testing.T) {
	srv, _ := newFakeBackend(t, 0)
	e := newTestEmbedder(t, srv, 16)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("Expected nil, nil for empty input, got %v, %v", vecs, err)
	}
}
