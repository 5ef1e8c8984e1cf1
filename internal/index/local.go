package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// VectorsFile and MetadataFile are the two co-located files that make
	// up the persisted index artifact. Loading requires both.
	VectorsFile  = "vectors.bin"
	MetadataFile = "metadata.json"

	vectorsMagic   = "MRVX"
	vectorsVersion = 1
)

// Local is a brute-force cosine-similarity index held in memory. Vectors
// are L2-normalized at insertion; search is a dot product. Suited to tens
// of thousands of entries.
type Local struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	ids     []string
	metas   []Metadata
}

var _ Store = (*Local)(nil)

// NewLocal creates an empty local index. The dimension is fixed by the
// first vector added.
func NewLocal() *Local {
	return &Local{}
}

// Add appends one normalized entry.
func (l *Local) Add(_ context.Context, chunkID string, vector []float32, meta Metadata) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector for chunk %s", ErrDimensionMismatch, chunkID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dim == 0 {
		l.dim = len(vector)
	} else if len(vector) != l.dim {
		return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
			ErrDimensionMismatch, chunkID, len(vector), l.dim)
	}

	l.vectors = append(l.vectors, normalize(vector))
	l.ids = append(l.ids, chunkID)
	l.metas = append(l.metas, meta)
	return nil
}

// AddBatch appends parallel entry slices in order.
func (l *Local) AddBatch(ctx context.Context, chunkIDs []string, vectors [][]float32, metas []Metadata) error {
	if len(chunkIDs) != len(vectors) || len(chunkIDs) != len(metas) {
		return fmt.Errorf("mismatched batch lengths: %d ids, %d vectors, %d metadata",
			len(chunkIDs), len(vectors), len(metas))
	}
	for i := range chunkIDs {
		if err := l.Add(ctx, chunkIDs[i], vectors[i], metas[i]); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the k nearest entries by cosine similarity.
func (l *Local) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.vectors) == 0 {
		return nil, nil
	}
	if len(vector) != l.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimensionMismatch, len(vector), l.dim)
	}

	query := normalize(vector)
	hits := make([]Hit, len(l.vectors))
	for i, v := range l.vectors {
		hits[i] = Hit{
			ChunkID: l.ids[i],
			Score:   dot(query, v),
			Meta:    l.metas[i],
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Count reports the number of stored entries.
func (l *Local) Count(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids), nil
}

// Clear removes all entries and resets the dimension.
func (l *Local) Clear(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dim = 0
	l.vectors = nil
	l.ids = nil
	l.metas = nil
	return nil
}

// metadataFile is the on-disk shape of MetadataFile. Count duplicates the
// entry count so corruption is detectable against the vector blob.
type metadataFile struct {
	Count   int             `json:"count"`
	Entries []metadataEntry `json:"entries"`
}

type metadataEntry struct {
	ChunkID string `json:"chunk_id"`
	Metadata
}

// Save writes the index to dir as two files: a binary vector blob and a
// JSON metadata file. Both are written to temporary files first and then
// renamed, so a concurrent reader never observes a partial artifact.
func (l *Local) Save(dir string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	vecTmp := filepath.Join(dir, VectorsFile+".tmp")
	metaTmp := filepath.Join(dir, MetadataFile+".tmp")

	if err := l.writeVectors(vecTmp); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := l.writeMetadata(metaTmp); err != nil {
		os.Remove(vecTmp)
		return fmt.Errorf("write metadata: %w", err)
	}

	if err := os.Rename(vecTmp, filepath.Join(dir, VectorsFile)); err != nil {
		return fmt.Errorf("swap vectors file: %w", err)
	}
	if err := os.Rename(metaTmp, filepath.Join(dir, MetadataFile)); err != nil {
		return fmt.Errorf("swap metadata file: %w", err)
	}
	return nil
}

// LoadLocal reads a persisted index from dir. A missing or corrupt
// artifact, or an entry-count mismatch between the two files, wraps
// ErrUnavailable so callers can tell "build required" from "no matches".
func LoadLocal(dir string) (*Local, error) {
	vectors, dim, err := readVectors(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	meta, err := readMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(meta.Entries) != meta.Count || len(vectors) != meta.Count {
		return nil, fmt.Errorf("%w: %d vectors but %d metadata entries (declared %d)",
			ErrUnavailable, len(vectors), len(meta.Entries), meta.Count)
	}

	l := &Local{
		dim:     dim,
		vectors: vectors,
		ids:     make([]string, len(meta.Entries)),
		metas:   make([]Metadata, len(meta.Entries)),
	}
	for i, e := range meta.Entries {
		l.ids[i] = e.ChunkID
		l.metas[i] = e.Metadata
	}
	return l, nil
}

func (l *Local) writeVectors(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(vectorsMagic); err != nil {
		return err
	}
	header := []uint32{vectorsVersion, uint32(l.dim), uint32(len(l.vectors))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, vec := range l.vectors {
		if err := binary.Write(w, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (l *Local) writeMetadata(path string) error {
	entries := make([]metadataEntry, len(l.ids))
	for i, id := range l.ids {
		entries[i] = metadataEntry{ChunkID: id, Metadata: l.metas[i]}
	}

	data, err := json.Marshal(metadataFile{Count: len(entries), Entries: entries})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(vectorsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, 0, fmt.Errorf("read header: %v", err)
	}
	if string(magic) != vectorsMagic {
		return nil, 0, fmt.Errorf("bad magic %q", magic)
	}

	var version, dim, count uint32
	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, 0, fmt.Errorf("read header: %v", err)
		}
	}
	if version != vectorsVersion {
		return nil, 0, fmt.Errorf("unsupported version %d", version)
	}
	if dim == 0 && count > 0 {
		return nil, 0, fmt.Errorf("zero dimension with %d entries", count)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, 0, fmt.Errorf("read vector %d: %v", i, err)
		}
		vectors[i] = vec
	}
	return vectors, int(dim), nil
}

func readMetadata(path string) (*metadataFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta metadataFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %v", err)
	}
	return &meta, nil
}

// normalize returns a unit-length copy of v. Zero vectors are returned
// as-is; they score zero against everything.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
