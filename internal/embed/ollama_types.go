package embed

import "strings"

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultOllamaDimensions is used for models missing from the table
	DefaultOllamaDimensions = 768

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// ollamaDimensions maps common Ollama embedding models to their output size.
var ollamaDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"multilingual-e5-large":  1024,
	"bge-large":              1024,
	"bge-base":               768,
	"bge-small":              512,
	"snowflake-arctic-embed": 768,
}

// OllamaDimensions returns the known dimension for model, ignoring any ":tag".
func OllamaDimensions(model string) int {
	if d, ok := ollamaDimensions[model]; ok {
		return d
	}
	base, _, _ := strings.Cut(model, ":")
	if d, ok := ollamaDimensions[base]; ok {
		return d
	}
	return DefaultOllamaDimensions
}

// OllamaEmbedRequest is the Ollama /api/embed request
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string for batch
}

// OllamaEmbedResponse is the Ollama /api/embed response
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaShowRequest is the Ollama /api/show request
type OllamaShowRequest struct {
	Name string `json:"name"`
}

// OllamaShowResponse is the subset of /api/show we read
type OllamaShowResponse struct {
	Size       int64  `json:"size"`
	Parameters string `json:"parameters"`
	Format     string `json:"format"`
	Details    struct {
		Format        string `json:"format"`
		ParameterSize string `json:"parameter_size"`
	} `json:"details"`
}

// ModelInfo describes an installed Ollama model.
type ModelInfo struct {
	Size       int64  `json:"size"`
	Parameters string `json:"parameters"`
	Format     string `json:"format"`
}
