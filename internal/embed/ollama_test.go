package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

func newFakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string          `json:"model"`
			Input json.RawMessage `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Input, &single))
			inputs = []string{single}
		}
		if inputs[0] == "fail" {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}

		out := make([][]float64, len(inputs))
		for i, in := range inputs {
			out[i] = []float64{0, float64(len(in))}
		}
		_ = json.NewEncoder(w).Encode(OllamaEmbedResponse{Model: req.Model, Embeddings: out})
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		var req OllamaShowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mxbai-embed-large", req.Name)
		_, _ = w.Write([]byte(`{"details":{"format":"gguf","parameter_size":"335M"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	// Given: an Ollama server and batch size 2
	srv := newFakeOllama(t)
	e := NewOllamaEmbedder(fastConfig(Config{BaseURL: srv.URL, BatchSize: 2}))
	defer e.Close()

	// When: embedding three texts and a blank
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "bb", "ccc"})

	// Then: vectors are normalized and in input order
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, []float32{0, 1}, vecs[0])
	assert.Len(t, vecs[1], DefaultOllamaDimensions)
	assert.Equal(t, []float32{0, 1}, vecs[2])
	assert.Equal(t, DefaultOllamaModel, e.ModelName())

	single, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, single)
}

func TestOllamaEmbedder_RejectsUnknownModel(t *testing.T) {
	srv := newFakeOllama(t)
	e := NewOllamaEmbedder(fastConfig(Config{BaseURL: srv.URL}))
	defer e.Close()

	_, err := e.Embed(context.Background(), "fail")

	require.Error(t, err)
	assert.Equal(t, hserrors.ErrCodeProviderRejected, hserrors.GetCode(err))
}

func TestOllamaEmbedder_ModelInfo(t *testing.T) {
	srv := newFakeOllama(t)
	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "mxbai-embed-large"})
	defer e.Close()

	info, err := e.ModelInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "gguf", info.Format)
	assert.Equal(t, "335M", info.Parameters)
	assert.Equal(t, 1024, e.Dimensions())
}

func TestDescribeModel(t *testing.T) {
	ctx := context.Background()
	srv := newFakeOllama(t)

	// Given: an ollama embedder behind the query cache
	cached := NewCachedEmbedder(NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "mxbai-embed-large"}), 8)
	defer cached.Close()

	// When: describing the model
	info, ok, err := DescribeModel(ctx, cached)

	// Then: the request reaches ollama through the wrapper
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "335M", info.Parameters)

	// Then: the static embedder has nothing to describe
	info, ok, err = DescribeModel(ctx, NewStaticEmbedder(8))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, info)
}

func TestOllamaEmbedder_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	e := NewOllamaEmbedder(fastConfig(Config{BaseURL: srv.URL}))
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Embed(ctx, "slow")

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOllamaDimensions(t *testing.T) {
	assert.Equal(t, 768, OllamaDimensions("nomic-embed-text"))
	assert.Equal(t, 768, OllamaDimensions("nomic-embed-text:latest"))
	assert.Equal(t, 512, OllamaDimensions("bge-small"))
	assert.Equal(t, 1024, OllamaDimensions("mxbai-embed-large:335m"))
	assert.Equal(t, DefaultOllamaDimensions, OllamaDimensions("something-else"))
}
