package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridsearch/internal/chunk"
	"github.com/Aman-CERP/hybridsearch/internal/embed"
	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
	"github.com/Aman-CERP/hybridsearch/internal/index"
	"github.com/Aman-CERP/hybridsearch/internal/search"
	"github.com/Aman-CERP/hybridsearch/internal/store"
	"github.com/Aman-CERP/hybridsearch/internal/watcher"
)

const (
	// DataDirName is the per-project directory holding the index and its lock.
	DataDirName = ".hybridsearch"

	// DatabaseFile is the sqlite file inside DataDirName.
	DatabaseFile = "index.db"

	// ProjectConfigName is the project config file, also read with a .yml suffix.
	ProjectConfigName = ".hybridsearch.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "HYBRIDSEARCH_"
)

// Config represents the complete hybridsearch configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is "sqlite" (default) or "postgresql".
	Type string `yaml:"type" json:"type"`

	// Path is the sqlite database file. Empty means .hybridsearch/index.db
	// under the project root. Relative paths resolve against the root.
	Path string `yaml:"path" json:"path"`

	ConnectionString string `yaml:"connection_string" json:"connection_string"`
	TablePrefix      string `yaml:"table_prefix" json:"table_prefix"`

	// Dimensions of stored embeddings. 0 infers them from the embedder.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	VectorIndex  string `yaml:"vector_index" json:"vector_index"`   // scan | hnsw
	KeywordIndex string `yaml:"keyword_index" json:"keyword_index"` // fts5 | bleve
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	Model     string `yaml:"model" json:"model"`
	APIKey    string `yaml:"api_key,omitempty" json:"-"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	BatchSize int    `yaml:"batch_size" json:"batch_size"`
	Timeout   string `yaml:"timeout" json:"timeout"`

	// CacheSize bounds the query embedding cache. Negative disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures the markdown chunker.
type ChunkingConfig struct {
	TokensPerChunk int    `yaml:"tokens_per_chunk" json:"tokens_per_chunk"`
	OverlapTokens  int    `yaml:"overlap_tokens" json:"overlap_tokens"`
	Tokenizer      string `yaml:"tokenizer" json:"tokenizer"` // words | tiktoken
}

// SearchConfig configures score fusion.
// Weights are independent multipliers and need not sum to 1.
type SearchConfig struct {
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	TextWeight   float64 `yaml:"text_weight" json:"text_weight"`
	MaxResults   int     `yaml:"max_results" json:"max_results"`
	MinScore     float64 `yaml:"min_score" json:"min_score"`
	Strategy     string  `yaml:"strategy" json:"strategy"` // weighted | rrf
	RRFK         int     `yaml:"rrf_k" json:"rrf_k"`
}

// IndexConfig configures file selection and embedding concurrency.
type IndexConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
	Workers int      `yaml:"workers" json:"workers"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// NewConfig returns a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Type:         store.TypeSQLite,
			TablePrefix:  "hybridsearch",
			VectorIndex:  "scan",
			KeywordIndex: "fts5",
		},
		Embedding: EmbeddingConfig{
			Provider:  string(embed.ProviderOllama),
			Model:     "nomic-embed-text",
			BatchSize: embed.DefaultBatchSize,
			Timeout:   embed.DefaultTimeout.String(),
		},
		Chunking: ChunkingConfig{
			TokensPerChunk: chunk.DefaultTokensPerChunk,
			OverlapTokens:  chunk.DefaultOverlapTokens,
			Tokenizer:      "words",
		},
		Search: SearchConfig{
			VectorWeight: search.DefaultVectorWeight,
			TextWeight:   search.DefaultTextWeight,
			MaxResults:   search.DefaultMaxResults,
			Strategy:     string(search.StrategyWeighted),
			RRFK:         search.DefaultRRFConstant,
		},
		Index: IndexConfig{
			Include: append([]string(nil), index.DefaultInclude...),
			Exclude: append([]string(nil), index.DefaultExclude...),
			Workers: max(1, runtime.NumCPU()/2),
		},
		Watch: WatchConfig{
			Debounce: "200ms",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/hybridsearch/config.yaml, or ~/.config/hybridsearch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridsearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hybridsearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "hybridsearch", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig returns nil, nil when there is no user config.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/hybridsearch/config.yaml)
//  3. Project config (.hybridsearch.yaml in dir)
//  4. A .env file in dir, which never overrides variables already set
//  5. Environment variables (HYBRIDSEARCH_*, then provider API keys)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges .hybridsearch.yaml, or .hybridsearch.yml, when present.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := strings.TrimSuffix(yamlPath, ".yaml") + ".yml"
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	var parsed Config
	if err := parseYAML(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func parseYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return hserrors.ConfigError("failed to parse config file "+path, err).
			WithDetail("path", path)
	}
	return nil
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return hserrors.ConfigError("failed to load "+path, err).WithDetail("path", path)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	s := other.Storage
	setString(&c.Storage.Type, s.Type)
	setString(&c.Storage.Path, s.Path)
	setString(&c.Storage.ConnectionString, s.ConnectionString)
	setString(&c.Storage.TablePrefix, s.TablePrefix)
	setInt(&c.Storage.Dimensions, s.Dimensions)
	setString(&c.Storage.VectorIndex, s.VectorIndex)
	setString(&c.Storage.KeywordIndex, s.KeywordIndex)

	e := other.Embedding
	setString(&c.Embedding.Provider, e.Provider)
	setString(&c.Embedding.Model, e.Model)
	setString(&c.Embedding.APIKey, e.APIKey)
	setString(&c.Embedding.BaseURL, e.BaseURL)
	setInt(&c.Embedding.BatchSize, e.BatchSize)
	setString(&c.Embedding.Timeout, e.Timeout)
	setInt(&c.Embedding.CacheSize, e.CacheSize)

	ch := other.Chunking
	setInt(&c.Chunking.TokensPerChunk, ch.TokensPerChunk)
	setInt(&c.Chunking.OverlapTokens, ch.OverlapTokens)
	setString(&c.Chunking.Tokenizer, ch.Tokenizer)

	sr := other.Search
	setFloat(&c.Search.VectorWeight, sr.VectorWeight)
	setFloat(&c.Search.TextWeight, sr.TextWeight)
	setInt(&c.Search.MaxResults, sr.MaxResults)
	setFloat(&c.Search.MinScore, sr.MinScore)
	setString(&c.Search.Strategy, sr.Strategy)
	setInt(&c.Search.RRFK, sr.RRFK)

	if len(other.Index.Include) > 0 {
		c.Index.Include = other.Index.Include
	}
	if len(other.Index.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Index.Exclude = appendUnique(c.Index.Exclude, other.Index.Exclude...)
	}
	setInt(&c.Index.Workers, other.Index.Workers)

	setString(&c.Watch.Debounce, other.Watch.Debounce)
}

// applyEnvOverrides applies HYBRIDSEARCH_* variables. A provider key such as
// OPENAI_API_KEY fills embedding.api_key only when nothing else set it.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"STORAGE_TYPE":       &c.Storage.Type,
		"STORAGE_PATH":       &c.Storage.Path,
		"DATABASE_URL":       &c.Storage.ConnectionString,
		"TABLE_PREFIX":       &c.Storage.TablePrefix,
		"VECTOR_INDEX":       &c.Storage.VectorIndex,
		"KEYWORD_INDEX":      &c.Storage.KeywordIndex,
		"EMBEDDING_PROVIDER": &c.Embedding.Provider,
		"EMBEDDING_MODEL":    &c.Embedding.Model,
		"EMBEDDING_API_KEY":  &c.Embedding.APIKey,
		"EMBEDDING_BASE_URL": &c.Embedding.BaseURL,
		"EMBEDDING_TIMEOUT":  &c.Embedding.Timeout,
		"TOKENIZER":          &c.Chunking.Tokenizer,
		"STRATEGY":           &c.Search.Strategy,
		"WATCH_DEBOUNCE":     &c.Watch.Debounce,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DIMENSIONS":           &c.Storage.Dimensions,
		"EMBEDDING_BATCH_SIZE": &c.Embedding.BatchSize,
		"EMBEDDING_CACHE_SIZE": &c.Embedding.CacheSize,
		"TOKENS_PER_CHUNK":     &c.Chunking.TokensPerChunk,
		"OVERLAP_TOKENS":       &c.Chunking.OverlapTokens,
		"MAX_RESULTS":          &c.Search.MaxResults,
		"RRF_K":                &c.Search.RRFK,
		"WORKERS":              &c.Index.Workers,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(key, v, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"VECTOR_WEIGHT": &c.Search.VectorWeight,
		"TEXT_WEIGHT":   &c.Search.TextWeight,
		"MIN_SCORE":     &c.Search.MinScore,
	}
	for key, dst := range floats {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(key, v, err)
		}
		*dst = f
	}

	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerAPIKey(c.Embedding.Provider)
	}
	return nil
}

func envError(key, value string, err error) error {
	return hserrors.ConfigError("invalid value for "+EnvPrefix+key, err).
		WithDetail("value", value)
}

// providerAPIKey returns the conventional API key variable for provider.
func providerAPIKey(provider string) string {
	switch embed.ProviderType(strings.ToLower(provider)) {
	case embed.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case embed.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case embed.ProviderSiliconFlow:
		return os.Getenv("SILICONFLOW_API_KEY")
	default:
		return ""
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Type) {
	case store.TypeSQLite:
	case store.TypePostgres:
		if c.Storage.ConnectionString == "" {
			return invalid("storage.connection_string is required for postgresql", "")
		}
	default:
		return hserrors.New(hserrors.ErrCodeUnsupportedStorage,
			"unsupported storage type: "+c.Storage.Type, nil).
			WithSuggestion("Use 'sqlite' or 'postgresql'")
	}
	if !oneOf(c.Storage.VectorIndex, "", "scan", "hnsw") {
		return invalid("storage.vector_index must be 'scan' or 'hnsw'", c.Storage.VectorIndex)
	}
	if !oneOf(c.Storage.KeywordIndex, "", "fts5", "bleve") {
		return invalid("storage.keyword_index must be 'fts5' or 'bleve'", c.Storage.KeywordIndex)
	}
	if c.Storage.Dimensions < 0 {
		return invalid("storage.dimensions must be non-negative", strconv.Itoa(c.Storage.Dimensions))
	}

	if !isProvider(c.Embedding.Provider) {
		return hserrors.New(hserrors.ErrCodeUnsupportedProvider,
			"unsupported embedding provider: "+c.Embedding.Provider, nil).
			WithDetail("provider", c.Embedding.Provider)
	}
	if c.Embedding.BatchSize < 0 {
		return invalid("embedding.batch_size must be non-negative", strconv.Itoa(c.Embedding.BatchSize))
	}
	if _, err := parseDuration(c.Embedding.Timeout); err != nil {
		return invalid("embedding.timeout is not a duration", c.Embedding.Timeout)
	}

	if c.Chunking.TokensPerChunk < 0 || c.Chunking.OverlapTokens < 0 {
		return invalid("chunking sizes must be non-negative", "")
	}
	if !oneOf(c.Chunking.Tokenizer, "", "words", "tiktoken") {
		return invalid("chunking.tokenizer must be 'words' or 'tiktoken'", c.Chunking.Tokenizer)
	}

	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return invalid("search weights must be non-negative", "")
	}
	if c.Search.MaxResults < 0 {
		return invalid("search.max_results must be non-negative", strconv.Itoa(c.Search.MaxResults))
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return invalid("search.min_score must be between 0 and 1", strconv.FormatFloat(c.Search.MinScore, 'f', -1, 64))
	}
	if _, err := search.ParseStrategy(c.Search.Strategy); err != nil {
		return invalid("search.strategy must be 'weighted' or 'rrf'", c.Search.Strategy)
	}

	if c.Index.Workers < 0 {
		return invalid("index.workers must be non-negative", strconv.Itoa(c.Index.Workers))
	}
	if _, err := parseDuration(c.Watch.Debounce); err != nil {
		return invalid("watch.debounce is not a duration", c.Watch.Debounce)
	}
	return nil
}

func invalid(msg, value string) error {
	err := hserrors.New(hserrors.ErrCodeConfigInvalid, msg, nil)
	if value != "" {
		err = err.WithDetail("value", value)
	}
	return err
}

func isProvider(name string) bool {
	for _, p := range embed.Providers {
		if strings.EqualFold(name, string(p)) {
			return true
		}
	}
	return false
}

// WriteYAML writes the configuration to a YAML file, creating parent
// directories. The API key is never written.
func (c *Config) WriteYAML(path string) error {
	out := *c
	out.Embedding.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DataDir returns the project data directory.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// StoreConfig maps the storage section onto store.Config for the project at root.
func (c *Config) StoreConfig(root string) store.Config {
	path := c.Storage.Path
	switch {
	case path == "":
		path = filepath.Join(DataDir(root), DatabaseFile)
	case !filepath.IsAbs(path):
		path = filepath.Join(root, path)
	}
	return store.Config{
		Type:             strings.ToLower(c.Storage.Type),
		Path:             path,
		ConnectionString: c.Storage.ConnectionString,
		TablePrefix:      c.Storage.TablePrefix,
		Dimensions:       c.Storage.Dimensions,
		VectorIndex:      c.Storage.VectorIndex,
		KeywordIndex:     c.Storage.KeywordIndex,
	}
}

// EmbedConfig maps the embedding section onto embed.Config.
func (c *Config) EmbedConfig() embed.Config {
	timeout, _ := parseDuration(c.Embedding.Timeout)
	return embed.Config{
		Provider:  embed.ProviderType(c.Embedding.Provider),
		Model:     c.Embedding.Model,
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		BatchSize: c.Embedding.BatchSize,
		Timeout:   timeout,
		CacheSize: c.Embedding.CacheSize,
	}
}

// EngineConfig maps the chunking, search and index sections onto
// search.EngineConfig for the project at root.
func (c *Config) EngineConfig(root string) search.EngineConfig {
	strategy, _ := search.ParseStrategy(c.Search.Strategy)

	cfg := search.DefaultEngineConfig(root)
	cfg.Chunking = chunk.Config{
		TokensPerChunk: c.Chunking.TokensPerChunk,
		OverlapTokens:  c.Chunking.OverlapTokens,
	}
	cfg.Hybrid = search.HybridConfig{
		VectorWeight: c.Search.VectorWeight,
		TextWeight:   c.Search.TextWeight,
	}
	cfg.Strategy = strategy
	cfg.RRFK = c.Search.RRFK
	cfg.Index = index.Config{
		Include: c.Index.Include,
		Exclude: c.Index.Exclude,
		Workers: c.Index.Workers,
		DataDir: DataDir(root),
	}
	cfg.Provider = strings.ToLower(c.Embedding.Provider)
	cfg.StorageType = strings.ToLower(c.Storage.Type)
	return cfg
}

// SearchOptions returns the default per-query options.
func (c *Config) SearchOptions() search.Options {
	return search.Options{
		MaxResults: c.Search.MaxResults,
		MinScore:   c.Search.MinScore,
	}
}

// TokenCounter builds the configured chunk tokenizer.
func (c *Config) TokenCounter() (chunk.TokenCounter, error) {
	counter, err := chunk.NewTokenCounter(strings.ToLower(c.Chunking.Tokenizer))
	if err != nil {
		return nil, hserrors.ConfigError("invalid chunking.tokenizer", err)
	}
	return counter, nil
}

// WatchOptions maps the watch section onto watcher.Options.
func (c *Config) WatchOptions() watcher.Options {
	debounce, _ := parseDuration(c.Watch.Debounce)
	opts := watcher.DefaultOptions()
	if debounce > 0 {
		opts.DebounceWindow = debounce
	}
	return opts
}

// parseDuration accepts Go durations. Empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
