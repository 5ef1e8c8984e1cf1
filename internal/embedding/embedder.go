package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// ErrUnavailable indicates the embedding backend failed to compute a
// vector. Fatal for index builds; a single query fails cleanly.
var ErrUnavailable = errors.New("embedding backend unavailable")

const (
	// DefaultBatchSize keeps request payloads small enough for local
	// runtimes; hosted APIs accept far larger batches.
	DefaultBatchSize = 64

	// defaultWorkers bounds concurrent batch requests during index builds.
	defaultWorkers = 4

	// emptyPlaceholder substitutes for empty input so sparse documents
	// don't abort a build; embedding APIs reject empty strings.
	emptyPlaceholder = "[empty]"
)

// Embedder generates embeddings through an OpenAI-compatible backend. It
// batches requests, retries rate-limit errors with exponential backoff and
// runs batches on a bounded worker pool. Results always come back in input
// order regardless of internal parallelism.
type Embedder struct {
	client    *Client
	batchSize int
	workers   int
}

// NewEmbedder creates an Embedder. A batchSize of 0 selects
// DefaultBatchSize.
func NewEmbedder(client *Client, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		client:    client,
		batchSize: batchSize,
		workers:   defaultWorkers,
	}
}

// Embed generates a single embedding. Same text and model yield a
// numerically stable vector across calls.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, preserving input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, e.workers)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		wg.Add(1)
		sem <- struct{}{}
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			vecs, err := e.embedBatchWithRetry(ctx, texts[start:end])
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("batch %d-%d: %w", start, end, err)
				}
				mu.Unlock()
				return
			}
			copy(results[start:end], vecs)
		}(start, end)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// embedBatchWithRetry embeds one batch, retrying rate-limit errors with
// exponential backoff. Other errors are permanent.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = emptyPlaceholder
		}
		input[i] = t
	}

	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: input,
			},
			Model: e.client.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		if len(resp.Data) != len(input) {
			return backoff.Permanent(fmt.Errorf("%w: got %d embeddings for %d inputs",
				ErrUnavailable, len(resp.Data), len(input)))
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return embeddings, nil
}

// isRateLimitError reports whether err is an HTTP 429 from the backend.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 narrows API float64 vectors to the float32 the index stores.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
