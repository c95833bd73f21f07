package embed

import (
	"log/slog"
	"strings"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

// Providers lists the accepted provider names.
var Providers = []ProviderType{
	ProviderOpenAI, ProviderGemini, ProviderSiliconFlow, ProviderOllama, ProviderLocal, ProviderStatic,
}

// NewEmbedder creates the embedder named by cfg.Provider. Unless cfg.CacheSize
// is negative the result is wrapped in a CachedEmbedder.
//
// The "local" provider returns ErrLocalUnsupported. An unknown provider fails
// with ErrCodeUnsupportedProvider naming the value.
func NewEmbedder(cfg Config) (Embedder, error) {
	cfg.Provider = ProviderType(strings.ToLower(strings.TrimSpace(string(cfg.Provider))))

	var (
		embedder Embedder
		err      error
	)
	switch cfg.Provider {
	case ProviderOpenAI, ProviderSiliconFlow:
		embedder, err = NewOpenAIEmbedder(cfg)
	case ProviderGemini:
		embedder, err = NewGeminiEmbedder(cfg)
	case ProviderOllama:
		embedder = NewOllamaEmbedder(cfg)
	case ProviderStatic:
		embedder = NewStaticEmbedder(0)
	case ProviderLocal:
		return nil, ErrLocalUnsupported
	default:
		names := make([]string, len(Providers))
		for i, p := range Providers {
			names[i] = string(p)
		}
		return nil, hserrors.New(hserrors.ErrCodeUnsupportedProvider,
			"unsupported embedding provider: "+string(cfg.Provider), nil).
			WithDetail("provider", string(cfg.Provider)).
			WithSuggestion("Use one of: " + strings.Join(names, ", "))
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(cfg.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}
