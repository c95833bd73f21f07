package search

import (
	"context"
	"sync"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	"github.com/Aman-CERP/hybridsearch/internal/store"
)

// MockStorage answers the two sub-queries from canned hits and records what
// it was asked. Methods the search path never calls fall through to the
// embedded nil interface.
type MockStorage struct {
	store.Storage

	mu sync.Mutex

	VectorHits  []*store.ScoredChunk
	KeywordHits []*store.ScoredChunk
	VectorErr   error
	KeywordErr  error
	InitErr     error
	Stats       store.Stats

	// Run after the call is recorded, without holding the mock's lock.
	VectorHook  func(ctx context.Context)
	KeywordHook func(ctx context.Context)

	InitCalls   int
	CloseCalls  int
	VectorOpts  []store.VectorSearchOptions
	KeywordOpts []store.KeywordSearchOptions
	Queries     []string
}

func (m *MockStorage) Initialize(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls++
	return m.InitErr
}

func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

func (m *MockStorage) SearchByVector(ctx context.Context, _ []float32, opts store.VectorSearchOptions) ([]*store.ScoredChunk, error) {
	m.mu.Lock()
	m.VectorOpts = append(m.VectorOpts, opts)
	hits, err, hook := m.VectorHits, m.VectorErr, m.VectorHook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return hits, err
}

func (m *MockStorage) SearchByKeyword(ctx context.Context, q string, opts store.KeywordSearchOptions) ([]*store.ScoredChunk, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, q)
	m.KeywordOpts = append(m.KeywordOpts, opts)
	hits, err, hook := m.KeywordHits, m.KeywordErr, m.KeywordHook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return hits, err
}

func (m *MockStorage) GetStats(context.Context) (store.Stats, error) {
	return m.Stats, nil
}

// MockEmbedder returns a fixed vector or error.
type MockEmbedder struct {
	mu       sync.Mutex
	Err      error
	Calls    []string
	closeCnt int
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, text)
	if m.Err != nil {
		return nil, m.Err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int   { return 4 }
func (m *MockEmbedder) ModelName() string { return "mock-embed" }
func (m *MockEmbedder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCnt++
	return nil
}

// describingEmbedder adds provider model details to MockEmbedder.
type describingEmbedder struct {
	*MockEmbedder
	Info *embed.ModelInfo
	Err  error
}

func (d *describingEmbedder) ModelInfo(context.Context) (*embed.ModelInfo, error) {
	return d.Info, d.Err
}

func scored(path string, start, end int, content string, score float64) *store.ScoredChunk {
	return &store.ScoredChunk{
		Chunk: &store.Chunk{
			ID:        chunk.ID(path, start),
			Path:      path,
			Content:   content,
			StartLine: start,
			EndLine:   end,
		},
		Score: score,
	}
}
