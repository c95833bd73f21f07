package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

func TestNewEmbedder(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantType any
	}{
		{"openai", Config{Provider: "openai", APIKey: "k"}, &OpenAIEmbedder{}},
		{"siliconflow", Config{Provider: "SiliconFlow", APIKey: "k"}, &OpenAIEmbedder{}},
		{"gemini", Config{Provider: "gemini", APIKey: "k"}, &GeminiEmbedder{}},
		{"ollama", Config{Provider: "ollama"}, &OllamaEmbedder{}},
		{"static", Config{Provider: "static"}, &StaticEmbedder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(tt.cfg)
			require.NoError(t, err)
			defer e.Close()

			cached, ok := e.(*CachedEmbedder)
			require.True(t, ok, "embedders are cached by default")
			assert.IsType(t, tt.wantType, cached.Inner())
		})
	}
}

func TestNewEmbedder_CacheDisabled(t *testing.T) {
	e, err := NewEmbedder(Config{Provider: ProviderStatic, CacheSize: -1})
	require.NoError(t, err)
	assert.IsType(t, &StaticEmbedder{}, e)
}

func TestNewEmbedder_Local(t *testing.T) {
	_, err := NewEmbedder(Config{Provider: ProviderLocal})
	assert.ErrorIs(t, err, ErrLocalUnsupported)
	assert.Contains(t, err.Error(), "Use 'ollama' for local models")
}

func TestNewEmbedder_Unsupported(t *testing.T) {
	_, err := NewEmbedder(Config{Provider: "cohere"})

	require.Error(t, err)
	assert.Equal(t, hserrors.ErrCodeUnsupportedProvider, hserrors.GetCode(err))
	assert.Contains(t, err.Error(), "unsupported embedding provider: cohere")
}
