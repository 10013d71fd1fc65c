// Package config provides configuration loading and structs for tanya.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug" toml:"debug"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding" toml:"embedding"`
	Index      IndexConfig      `yaml:"index" toml:"index"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Router     RouterConfig     `yaml:"router" toml:"router"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Search     SearchConfig     `yaml:"search" toml:"search"`
	Watch      WatchConfig      `yaml:"watch" toml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string `yaml:"host" toml:"host"`
	Port             int    `yaml:"port" toml:"port"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
}

// RequestTimeout is the per-request handler timeout.
func (s ServerConfig) RequestTimeout() time.Duration { return ms(s.RequestTimeoutMS) }

// StorageConfig holds paths for the registry database and indexes.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path" toml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path" toml:"bleve_index_path"`
	// IndexPath is the directory of the persisted vector index and its metadata file.
	IndexPath string `yaml:"index_path" toml:"index_path"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	// Provider is onnx, openai, or mock.
	Provider   string `yaml:"provider" toml:"provider"`
	ModelPath  string `yaml:"model_path" toml:"model_path"`
	Model      string `yaml:"model" toml:"model"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens" toml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size" toml:"cache_size"`
	// BatchSize is the number of chunks per embedding call during ingestion and rebuild.
	BatchSize         int     `yaml:"batch_size" toml:"batch_size"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// APIKey reads the provider key from the configured environment variable.
func (e EmbeddingConfig) APIKey() string { return os.Getenv(e.APIKeyEnv) }

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	// Backend is flat, faiss, or qdrant.
	Backend string `yaml:"backend" toml:"backend"`
	// Metric is l2, cosine, or ip.
	Metric string       `yaml:"metric" toml:"metric"`
	Qdrant QdrantConfig `yaml:"qdrant" toml:"qdrant"`
}

// QdrantConfig holds managed index settings.
type QdrantConfig struct {
	URL               string  `yaml:"url" toml:"url"`
	Collection        string  `yaml:"collection" toml:"collection"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	TimeoutMS         int     `yaml:"timeout_ms" toml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// APIKey reads the Qdrant key from the configured environment variable.
func (q QdrantConfig) APIKey() string { return os.Getenv(q.APIKeyEnv) }

// Timeout is the per-request HTTP timeout.
func (q QdrantConfig) Timeout() time.Duration { return ms(q.TimeoutMS) }

// ChunkingConfig sets chunk size and overlap in words.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// RouterConfig holds query routing parameters. Threshold is nil when unset; an explicit 0
// accepts every candidate.
type RouterConfig struct {
	K                int      `yaml:"k" toml:"k"`
	RawK             int      `yaml:"raw_k" toml:"raw_k"`
	Threshold        *float64 `yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	MaxContextChunks int      `yaml:"max_context_chunks" toml:"max_context_chunks"`
	// AnswerMode is answer, summarize, or context.
	AnswerMode     string `yaml:"answer_mode" toml:"answer_mode"`
	MinAnswerChars int    `yaml:"min_answer_chars" toml:"min_answer_chars"`
	// Validate asks the generator to confirm local context before answering from it.
	Validate          bool `yaml:"validate" toml:"validate"`
	EmbedTimeoutMS    int  `yaml:"embed_timeout_ms" toml:"embed_timeout_ms"`
	SearchTimeoutMS   int  `yaml:"search_timeout_ms" toml:"search_timeout_ms"`
	ValidateTimeoutMS int  `yaml:"validate_timeout_ms" toml:"validate_timeout_ms"`
	GenerateTimeoutMS int  `yaml:"generate_timeout_ms" toml:"generate_timeout_ms"`
}

func (r RouterConfig) EmbedTimeout() time.Duration    { return ms(r.EmbedTimeoutMS) }
func (r RouterConfig) SearchTimeout() time.Duration   { return ms(r.SearchTimeoutMS) }
func (r RouterConfig) ValidateTimeout() time.Duration { return ms(r.ValidateTimeoutMS) }
func (r RouterConfig) GenerateTimeout() time.Duration { return ms(r.GenerateTimeoutMS) }

// GenerationConfig configures the generation collaborator.
type GenerationConfig struct {
	// Provider is openai or none. With none, queries below threshold get no generated answer.
	Provider          string  `yaml:"provider" toml:"provider"`
	Model             string  `yaml:"model" toml:"model"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Temperature       float32 `yaml:"temperature" toml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
}

// APIKey reads the provider key from the configured environment variable.
func (g GenerationConfig) APIKey() string { return os.Getenv(g.APIKeyEnv) }

// Enabled reports whether a generator is configured.
func (g GenerationConfig) Enabled() bool { return g.Provider != "" && g.Provider != "none" }

// SearchConfig holds hybrid search settings.
type SearchConfig struct {
	KeywordWeight     float64 `yaml:"keyword_weight" toml:"keyword_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight" toml:"semantic_weight"`
	TopKCandidates    int     `yaml:"top_k_candidates" toml:"top_k_candidates"`
	KeywordTitleBoost float64 `yaml:"keyword_title_boost" toml:"keyword_title_boost"`
	Fuzzy             bool    `yaml:"fuzzy" toml:"fuzzy"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories    []string `yaml:"directories" toml:"directories"`
	Extensions     []string `yaml:"extensions" toml:"extensions"`
	Recursive      *bool    `yaml:"recursive" toml:"recursive"`
	DebounceMS     int      `yaml:"debounce_ms" toml:"debounce_ms"`
	RebuildDelayMS int      `yaml:"rebuild_delay_ms" toml:"rebuild_delay_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

func (w WatchConfig) Debounce() time.Duration     { return ms(w.DebounceMS) }
func (w WatchConfig) RebuildDelay() time.Duration { return ms(w.RebuildDelayMS) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads and parses the config file at path (YAML, or TOML for a .toml extension),
// applies defaults, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Router.Threshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, fmt.Errorf("router.threshold must be in [0,1], got %v", *t))
	}
	if c.Router.RawK <= c.Router.K {
		errs = append(errs, fmt.Errorf("router.raw_k (%d) must exceed router.k (%d)", c.Router.RawK, c.Router.K))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap (%d) must be in [0, chunking.size)", c.Chunking.Overlap))
	}
	switch c.Index.Backend {
	case "flat", "faiss":
	case "qdrant":
		if c.Index.Metric != "cosine" {
			errs = append(errs, fmt.Errorf("index.backend qdrant requires metric cosine"))
		}
		if c.Index.Qdrant.URL == "" || c.Index.Qdrant.Collection == "" {
			errs = append(errs, fmt.Errorf("index.qdrant.url and index.qdrant.collection are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index.backend %q (supported: flat, faiss, qdrant)", c.Index.Backend))
	}
	switch c.Index.Metric {
	case "l2", "cosine", "ip":
	default:
		errs = append(errs, fmt.Errorf("unknown index.metric %q (supported: l2, cosine, ip)", c.Index.Metric))
	}
	switch c.Embedding.Provider {
	case "onnx", "openai", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q (supported: onnx, openai, mock)", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown generation.provider %q (supported: openai, none)", c.Generation.Provider))
	}
	switch c.Router.AnswerMode {
	case "answer", "summarize", "context":
	default:
		errs = append(errs, fmt.Errorf("unknown router.answer_mode %q (supported: answer, summarize, context)", c.Router.AnswerMode))
	}
	if c.Search.KeywordWeight < 0 || c.Search.SemanticWeight < 0 {
		errs = append(errs, fmt.Errorf("search weights must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadEnv loads .env files from the config directory and then the working directory. Values
// already set in the environment win; missing files are ignored.
func LoadEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	seen := make(map[string]bool)
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("failed to load %s: %w", abs, err)
		}
	}
	return nil
}

// Save writes the config to path in the format its extension selects.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
