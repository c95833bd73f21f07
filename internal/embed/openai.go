package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

// OpenAI-compatible provider defaults
const (
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultSiliconFlowModel = "BAAI/bge-large-zh"
	SiliconFlowBaseURL      = "https://api.siliconflow.cn/v1"

	openAIBatchSize      = 100
	siliconFlowBatchSize = 50
)

var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

var siliconFlowDimensions = map[string]int{
	"BAAI/bge-large-zh":  1024,
	"BAAI/bge-base-zh":   768,
	"BAAI/bge-small-zh":  512,
	"thenlper/gte-large": 1024,
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint. It serves
// both the openai and siliconflow providers; they differ only in base URL,
// batch limit and dimension table.
type OpenAIEmbedder struct {
	client    *openai.Client
	provider  ProviderType
	model     string
	dims      int
	batchSize int
	timeout   time.Duration
	retry     hserrors.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg.Provider, which must be
// openai (the default) or siliconflow.
func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}

	var (
		model     = cfg.Model
		dimTable  map[string]int
		defDims   int
		batchSize int
		baseURL   = cfg.BaseURL
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
		dimTable, defDims = openAIDimensions, 1536
		batchSize = cfg.batchSize(openAIBatchSize)
	case ProviderSiliconFlow:
		if model == "" {
			model = DefaultSiliconFlowModel
		}
		if baseURL == "" {
			baseURL = SiliconFlowBaseURL
		}
		dimTable, defDims = siliconFlowDimensions, 1024
		batchSize = cfg.batchSize(siliconFlowBatchSize)
	default:
		return nil, fmt.Errorf("provider %q is not OpenAI-compatible", cfg.Provider)
	}

	if cfg.APIKey == "" {
		return nil, missingKeyError(cfg.Provider)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	dims, ok := dimTable[model]
	if !ok {
		dims = defDims
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		provider:  cfg.Provider,
		model:     model,
		dims:      dims,
		batchSize: batchSize,
		timeout:   cfg.timeout(),
		retry:     cfg.retryConfig(),
	}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized batches. Blank texts get a zero
// vector without a request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for _, b := range batches(len(pending), e.batchSize) {
		idx := pending[b[0]:b[1]]
		input := make([]string, len(idx))
		for i, j := range idx {
			input[i] = texts[j]
		}

		vecs, err := hserrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return e.request(ctx, input)
		})
		if err != nil {
			return nil, fmt.Errorf("%s: embed batch of %d: %w", e.provider, len(input), err)
		}
		for i, j := range idx {
			results[j] = vecs[i]
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, input []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	})
	if err != nil {
		slog.Debug("embedding_request_failed",
			slog.String("provider", string(e.provider)),
			slog.Int("texts", len(input)),
			slog.String("error", err.Error()))
		return nil, e.classify(err)
	}
	if len(resp.Data) != len(input) {
		return nil, emptyResultError(e.provider)
	}

	out := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", e.provider, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = normalizeVector(v)
	}
	return out, nil
}

func (e *OpenAIEmbedder) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return statusError(e.provider, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return statusError(e.provider, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return transportError(e.provider, err)
}

// Dimensions returns the embedding dimension
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func missingKeyError(provider ProviderType) error {
	return hserrors.New(hserrors.ErrCodeMissingAPIKey,
		fmt.Sprintf("%s embedding requires an API key", provider), nil).
		WithDetail("provider", string(provider)).
		WithSuggestion("Set embedding.api_key or HYBRIDSEARCH_EMBEDDING_API_KEY")
}
