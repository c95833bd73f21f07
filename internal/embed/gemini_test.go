package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

func TestGeminiEmbedder_Embed(t *testing.T) {
	// Given: a fake embedContent endpoint
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/models/text-embedding-004:embedContent", r.URL.Path)
		assert.Equal(t, "gem-key", r.URL.Query().Get("key"))

		var req geminiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Content.Parts, 1)

		w.Header().Set("Content-Type", "application/json")
		n := float32(len(req.Content.Parts[0].Text))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float32{3 * n, 4 * n}},
		})
	}))
	defer srv.Close()

	e, err := NewGeminiEmbedder(fastConfig(Config{APIKey: "gem-key", BaseURL: srv.URL, Model: "models/text-embedding-004"}))
	require.NoError(t, err)

	// When: embedding a batch
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "", "three"})
	require.NoError(t, err)

	// Then: each non-blank text costs one request and is normalized
	require.Len(t, vecs, 3)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[0], 1e-6)
	assert.Len(t, vecs[1], GeminiDimensions)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[2], 1e-6)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, "text-embedding-004", e.ModelName())
}

func TestGeminiEmbedder_Errors(t *testing.T) {
	t.Run("Should retry rate limits", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"embedding":{"values":[1,0]}}`))
		}))
		defer srv.Close()

		e, err := NewGeminiEmbedder(fastConfig(Config{APIKey: "k", BaseURL: srv.URL}))
		require.NoError(t, err)

		vec, err := e.Embed(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vec)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("Should fail on an empty embedding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		e, err := NewGeminiEmbedder(fastConfig(Config{APIKey: "k", BaseURL: srv.URL}))
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "x")
		assert.Equal(t, hserrors.ErrCodeEmbeddingFailed, hserrors.GetCode(err))
	})

	t.Run("Should require an API key", func(t *testing.T) {
		_, err := NewGeminiEmbedder(Config{})
		assert.Equal(t, hserrors.ErrCodeMissingAPIKey, hserrors.GetCode(err))
	})
}
