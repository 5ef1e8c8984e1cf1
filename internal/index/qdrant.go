package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// DefaultCollection is the Qdrant collection holding chunk entries.
const DefaultCollection = "medrag_chunks"

// upsertBatchSize bounds points per upsert request.
const upsertBatchSize = 100

// Qdrant implements Store against an external Qdrant service. Persistence
// is server-side, so Save/Load have no local equivalent; Ready stands in
// for Load when deciding whether the index can serve queries.
type Qdrant struct {
	client     *qdrant.Client
	collection string

	mu  sync.Mutex
	dim int // fixed by the first batch, or discovered from the collection
}

var _ Store = (*Qdrant)(nil)

// NewQdrant connects to Qdrant and verifies health with exponential
// backoff, failing fast if the service stays unreachable.
func NewQdrant(host string, port int, collection string) (*Qdrant, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, collection: collection}

	if err := q.healthWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return q, nil
}

// Close closes the client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// Health performs a single health check.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

func (q *Qdrant) healthWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return q.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Ready reports whether the collection exists and holds entries, the
// external-service analogue of loading the local artifact. An empty or
// missing collection wraps ErrUnavailable.
func (q *Qdrant) Ready(ctx context.Context) error {
	count, err := q.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: collection %s is empty, index build required", ErrUnavailable, q.collection)
	}
	return nil
}

// Add appends a single entry.
func (q *Qdrant) Add(ctx context.Context, chunkID string, vector []float32, meta Metadata) error {
	return q.AddBatch(ctx, []string{chunkID}, [][]float32{vector}, []Metadata{meta})
}

// AddBatch upserts entries in bounded batches with retry. Point IDs are
// derived deterministically from chunk IDs so a rebuild overwrites rather
// than duplicates.
func (q *Qdrant) AddBatch(ctx context.Context, chunkIDs []string, vectors [][]float32, metas []Metadata) error {
	if len(chunkIDs) != len(vectors) || len(chunkIDs) != len(metas) {
		return fmt.Errorf("mismatched batch lengths: %d ids, %d vectors, %d metadata",
			len(chunkIDs), len(vectors), len(metas))
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	if err := q.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}
	for i, vec := range vectors {
		if len(vec) != q.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection has %d",
				ErrDimensionMismatch, chunkIDs[i], len(vec), q.dim)
		}
	}

	for start := 0; start < len(chunkIDs); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunkIDs))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(chunkIDs[i])),
				Vectors: qdrant.NewVectors(normalize(vectors[i])...),
				Payload: qdrant.NewValueMap(map[string]any{
					"chunk_id": chunkIDs[i],
					"doc_id":   metas[i].DocID,
					"field":    metas[i].Field,
					"seq":      metas[i].Seq,
					"text":     metas[i].Text,
				}),
			})
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Search queries the collection and re-sorts client-side so tie-breaking
// by lowest chunk ID matches the local index exactly.
func (q *Qdrant) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(normalize(vector)...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		hits = append(hits, Hit{
			ChunkID: payload["chunk_id"].GetStringValue(),
			Score:   float64(result.Score),
			Meta: Metadata{
				DocID: payload["doc_id"].GetStringValue(),
				Field: payload["field"].GetStringValue(),
				Seq:   int(payload["seq"].GetIntegerValue()),
				Text:  payload["text"].GetStringValue(),
			},
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	return hits, nil
}

// Count reports stored entries; a missing collection counts as zero.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		return 0, nil
	}

	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(info.GetPointsCount()), nil
}

// Clear drops the collection; it is recreated on the next AddBatch.
func (q *Qdrant) Clear(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	q.mu.Lock()
	q.dim = 0
	q.mu.Unlock()
	return nil
}

// ensureCollection creates the collection on first use with cosine
// distance and the batch's vector dimension. An existing collection must
// be configured for the same dimension, so a model change surfaces as
// ErrDimensionMismatch rather than a backend upsert error.
func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dim != 0 {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size > 0 && int(size) != dim {
			return fmt.Errorf("%w: batch has %d dimensions, collection %s is configured for %d",
				ErrDimensionMismatch, dim, q.collection, size)
		}
		q.dim = dim
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	q.dim = dim
	return nil
}

// pointID derives a stable UUID from a chunk ID. Qdrant point IDs must be
// UUIDs or integers; chunk IDs are structured strings.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("medrag:"+chunkID)).String()
}
