package embed

import (
	"context"
	"errors"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// MaxBatchSize caps a configured batch size
	MaxBatchSize = 256

	// DefaultTimeout is the per-request timeout for remote providers
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3

	// StaticDimensions is the default dimension of the static embedder
	StaticDimensions = 256
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderGemini      ProviderType = "gemini"
	ProviderSiliconFlow ProviderType = "siliconflow"
	ProviderOllama      ProviderType = "ollama"
	ProviderLocal       ProviderType = "local"
	ProviderStatic      ProviderType = "static"
)

// ErrLocalUnsupported is returned for the "local" provider.
var ErrLocalUnsupported = errors.New("Local embedding not yet implemented. Use 'ollama' for local models.")

// ErrClosed is returned by an embedder after Close.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Close releases resources
	Close() error
}

// ModelDescriber is implemented by embedders whose provider can describe the
// installed model.
type ModelDescriber interface {
	ModelInfo(ctx context.Context) (*ModelInfo, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider   ProviderType
	Model      string
	APIKey     string
	BaseURL    string
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// RetryDelay is the first backoff delay. Zero uses the default.
	RetryDelay time.Duration

	// CacheSize bounds the query cache. Zero uses the default; negative disables it.
	CacheSize int
}

func (c Config) batchSize(def int) int {
	switch {
	case c.BatchSize <= 0:
		return def
	case c.BatchSize > MaxBatchSize:
		return MaxBatchSize
	default:
		return c.BatchSize
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// batches splits n items into [start,end) windows of size.
func batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}
