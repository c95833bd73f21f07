package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Vector index implementations.
const (
	VectorIndexScan = "scan"
	VectorIndexHNSW = "hnsw"
)

// VectorHit is a single vector index match with cosine similarity in [-1, 1].
type VectorHit struct {
	ID    string
	Score float64
}

// VectorIndex provides nearest-neighbour search over chunk embeddings.
type VectorIndex interface {
	// Add inserts vectors with their IDs. Existing IDs are replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() int
	Clear() error
	Close() error
}

// ScanVectorIndex is an exact cosine index: every search scores every vector.
type ScanVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // normalized
	closed  bool
}

var _ VectorIndex = (*ScanVectorIndex)(nil)

// NewScanVectorIndex creates an empty exact index.
func NewScanVectorIndex() *ScanVectorIndex {
	return &ScanVectorIndex{vectors: make(map[string][]float32)}
}

// Add inserts vectors with their IDs.
func (s *ScanVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	for i, id := range ids {
		s.vectors[id] = normalizedCopy(vectors[i])
	}
	return nil
}

// Search scores all vectors against query and returns the best k.
func (s *ScanVectorIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || len(s.vectors) == 0 {
		return []*VectorHit{}, nil
	}

	q := normalizedCopy(query)
	hits := make([]*VectorHit, 0, len(s.vectors))
	for id, v := range s.vectors {
		if len(v) != len(q) {
			continue
		}
		hits = append(hits, &VectorHit{ID: id, Score: dot(q, v)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes vectors by ID.
func (s *ScanVectorIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

// Count returns number of vectors.
func (s *ScanVectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Clear removes all vectors.
func (s *ScanVectorIndex) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = make(map[string][]float32)
	return nil
}

// Close releases the vectors.
func (s *ScanVectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.vectors = nil
	return nil
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when either
// is zero-length, zero-magnitude, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotp, na, nb float64
	for i := range a {
		dotp += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dotp / (math.Sqrt(na) * math.Sqrt(nb))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalizedCopy(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalizeVectorInPlace(out)
	return out
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
