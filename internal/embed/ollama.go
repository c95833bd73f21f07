package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport // Store for connection cleanup
	host      string
	model     string
	dims      int
	batchSize int
	timeout   time.Duration
	retry     hserrors.RetryConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates a new Ollama embedder. No request is made until
// the first embedding.
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	host := strings.TrimRight(cfg.BaseURL, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}

	// IdleConnTimeout is short because CLI runs are short-lived.
	transport := newOllamaTransport(false)

	// No http.Client.Timeout: it would override the per-request context timeouts.
	client := &http.Client{
		Transport: transport,
	}

	return &OllamaEmbedder{
		client:    client,
		transport: transport,
		host:      host,
		model:     model,
		dims:      OllamaDimensions(model),
		batchSize: cfg.batchSize(DefaultBatchSize),
		timeout:   cfg.timeout(),
		retry:     cfg.retryConfig(),
	}
}

func newOllamaTransport(disableKeepAlives bool) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		MaxConnsPerHost:     OllamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   disableKeepAlives,
	}
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	// Handle empty/whitespace input
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	embeddings, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, emptyResultError(ProviderOllama)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts using Ollama's batch API
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	// Track which indices need API calls vs zero vectors
	type indexedText struct {
		idx  int
		text string
	}
	var nonEmpty []indexedText
	results := make([][]float32, len(texts))

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for _, b := range batches(len(nonEmpty), e.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := nonEmpty[b[0]:b[1]]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbedWithRetry(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(embeddings), len(batch))
		}

		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}

	return results, nil
}

func (e *OllamaEmbedder) httpClient() *http.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	attempt := 0
	return hserrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		attempt++
		timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		embeddings, err := e.doEmbed(timeoutCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.Duration("timeout", e.timeout),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		return embeddings, err
	})
}

// doEmbed performs a single batch embedding request with cancellation support.
// The HTTP call runs in a goroutine so that Ctrl+C returns promptly instead of
// waiting for the transport.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	// Use array input for batch, single string for single text
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	body, err := json.Marshal(OllamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		embeddings [][]float32
		err        error
	}
	resultCh := make(chan result, 1)

	client := e.httpClient()

	go func() {
		resp, err := client.Do(req)
		if err != nil {
			resultCh <- result{nil, transportError(ProviderOllama, err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, statusError(ProviderOllama, resp.StatusCode, string(respBody))}
			return
		}

		var apiResult OllamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, fmt.Errorf("failed to decode response: %w", err)}
			return
		}
		if len(apiResult.Embeddings) == 0 {
			resultCh <- result{nil, emptyResultError(ProviderOllama)}
			return
		}

		// Convert float64 to float32 and normalize
		embeddings := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			embedding := make([]float32, len(emb))
			for j, v := range emb {
				embedding[j] = float32(v)
			}
			embeddings[i] = normalizeVector(embedding)
		}

		resultCh <- result{embeddings, nil}
	}()

	select {
	case <-ctx.Done():
		// Force close connections to unblock the goroutine
		e.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, transportError(ProviderOllama, ctx.Err())
	case r := <-resultCh:
		return r.embeddings, r.err
	}
}

var _ ModelDescriber = (*OllamaEmbedder)(nil)

// ModelInfo queries /api/show for the configured model.
func (e *OllamaEmbedder) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(OllamaShowRequest{Name: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, transportError(ProviderOllama, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get model info from Ollama: %w",
			statusError(ProviderOllama, resp.StatusCode, string(respBody)))
	}

	var show OllamaShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	info := &ModelInfo{Size: show.Size, Parameters: show.Parameters, Format: show.Format}
	if info.Parameters == "" {
		info.Parameters = show.Details.ParameterSize
	}
	if info.Format == "" {
		info.Format = show.Details.Format
	}
	if info.Parameters == "" {
		info.Parameters = "unknown"
	}
	if info.Format == "" {
		info.Format = "unknown"
	}
	return info, nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// forceCloseConnections closes all HTTP connections including active ones by
// swapping in a fresh transport. In-flight reads on the old one fail.
func (e *OllamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport != nil {
		e.transport.CloseIdleConnections()
		e.transport = newOllamaTransport(true)
		e.client = &http.Client{Transport: e.transport}
	}
}
