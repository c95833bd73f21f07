package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

const (
	DefaultGeminiModel   = "text-embedding-004"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	GeminiDimensions     = 768
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Content geminiContent `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// GeminiEmbedder calls the Gemini embedContent endpoint, one text per request.
type GeminiEmbedder struct {
	client *resty.Client
	model  string
	apiKey string
	retry  hserrors.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(cfg Config) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, missingKeyError(ProviderGemini)
	}
	model := strings.TrimPrefix(cfg.Model, "models/")
	if model == "" {
		model = DefaultGeminiModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}

	// Retries go through errors.RetryWithResult.
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(cfg.timeout()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &GeminiEmbedder{
		client: client,
		model:  model,
		apiKey: cfg.APIKey,
		retry:  cfg.retryConfig(),
	}, nil
}

// Embed generates embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, GeminiDimensions), nil
	}

	return hserrors.RetryWithResult(ctx, e.retry, func() ([]float32, error) {
		return e.request(ctx, text)
	})
}

func (e *GeminiEmbedder) request(ctx context.Context, text string) ([]float32, error) {
	var out geminiEmbedResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("key", e.apiKey).
		SetBody(geminiEmbedRequest{Content: geminiContent{Parts: []geminiPart{{Text: text}}}}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/models/" + e.model + ":embedContent")
	if err != nil {
		return nil, transportError(ProviderGemini, err)
	}
	if resp.IsError() {
		return nil, statusError(ProviderGemini, resp.StatusCode(), resp.String())
	}
	if len(out.Embedding.Values) == 0 {
		return nil, emptyResultError(ProviderGemini)
	}
	return normalizeVector(out.Embedding.Values), nil
}

// EmbedBatch embeds texts sequentially; embedContent takes one text per call.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("gemini: embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension
func (e *GeminiEmbedder) Dimensions() int { return GeminiDimensions }

// ModelName returns the model identifier
func (e *GeminiEmbedder) ModelName() string { return e.model }

// Close marks the embedder closed.
func (e *GeminiEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
