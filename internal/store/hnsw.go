package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWVectorIndex implements VectorIndex with the coder/hnsw graph.
// Deletes are lazy: the node stays in the graph but loses its ID mapping,
// and searches over-fetch by the number of orphaned nodes. The graph is
// rebuilt from the live vectors once orphans outnumber them.
type HNSWVectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	idMap   map[string]uint64 // chunk ID -> graph key
	keyMap  map[uint64]string // graph key -> chunk ID
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// NewHNSWVectorIndex creates an empty graph. dims 0 fixes the dimension on first Add.
func NewHNSWVectorIndex(dims int) *HNSWVectorIndex {
	return &HNSWVectorIndex{
		graph:  newGraph(),
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return graph
}

// Add inserts vectors with their IDs.
func (h *HNSWVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("index is closed")
	}

	if h.dims == 0 {
		h.dims = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != h.dims {
			return ErrDimensionMismatch{Expected: h.dims, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := h.idMap[id]; exists {
			delete(h.keyMap, existingKey)
			delete(h.idMap, id)
		}

		key := h.nextKey
		h.nextKey++

		h.graph.Add(hnsw.MakeNode(key, normalizedCopy(vectors[i])))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	h.compactLocked()
	return nil
}

// Search finds the k nearest live vectors to query.
func (h *HNSWVectorIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorHit, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || len(h.idMap) == 0 {
		return []*VectorHit{}, nil
	}
	if len(query) != h.dims {
		return nil, ErrDimensionMismatch{Expected: h.dims, Got: len(query)}
	}

	q := normalizedCopy(query)
	fetch := k + (h.graph.Len() - len(h.idMap))
	if fetch > h.graph.Len() {
		fetch = h.graph.Len()
	}

	nodes := h.graph.Search(q, fetch)
	hits := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, live := h.keyMap[node.Key]
		if !live {
			continue
		}
		distance := h.graph.Distance(q, node.Value)
		hits = append(hits, &VectorHit{ID: id, Score: 1 - float64(distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes vectors by ID.
func (h *HNSWVectorIndex) Delete(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("index is closed")
	}
	for _, id := range ids {
		if key, exists := h.idMap[id]; exists {
			delete(h.keyMap, key)
			delete(h.idMap, id)
		}
	}
	h.compactLocked()
	return nil
}

// HNSWStats describes the graph, including lazily deleted nodes.
type HNSWStats struct {
	GraphNodes int
	Live       int
	Orphans    int
}

// Stats returns the graph size and orphan count.
func (h *HNSWVectorIndex) Stats() HNSWStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return HNSWStats{}
	}
	nodes := h.graph.Len()
	return HNSWStats{GraphNodes: nodes, Live: len(h.idMap), Orphans: nodes - len(h.idMap)}
}

// compactLocked rebuilds the graph from the live vectors when orphans
// outnumber them. h.mu must be held for writing.
func (h *HNSWVectorIndex) compactLocked() {
	orphans := h.graph.Len() - len(h.idMap)
	if orphans == 0 || orphans <= len(h.idMap) {
		return
	}

	graph := newGraph()
	idMap := make(map[string]uint64, len(h.idMap))
	keyMap := make(map[uint64]string, len(h.idMap))
	var next uint64
	for _, id := range slices.Sorted(maps.Keys(h.idMap)) {
		vec, ok := h.graph.Lookup(h.idMap[id])
		if !ok {
			continue
		}
		graph.Add(hnsw.MakeNode(next, vec))
		idMap[id] = next
		keyMap[next] = id
		next++
	}

	slog.Debug("hnsw_compacted",
		slog.Int("orphans", orphans),
		slog.Int("live", len(idMap)))
	h.graph, h.idMap, h.keyMap, h.nextKey = graph, idMap, keyMap, next
}

// Count returns the number of live vectors.
func (h *HNSWVectorIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Clear drops the graph and all mappings.
func (h *HNSWVectorIndex) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = newGraph()
	h.idMap = make(map[string]uint64)
	h.keyMap = make(map[uint64]string)
	h.nextKey = 0
	return nil
}

// Close releases the graph.
func (h *HNSWVectorIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.graph = nil
	h.idMap = nil
	h.keyMap = nil
	return nil
}
