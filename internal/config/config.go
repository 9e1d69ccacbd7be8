package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GeminiEmbedderConfig holds connection settings for the Gemini embeddings
// API. The key itself lives in the environment variable named by APIKeyEnv.
type GeminiEmbedderConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// EmbedderConfig selects and configures the embedder implementation.
type EmbedderConfig struct {
	Type       string                `yaml:"type"` // gemini or local
	Dimensions int                   `yaml:"dimensions"`
	BatchSize  int                   `yaml:"batch_size"`
	Workers    int                   `yaml:"workers"`
	Gemini     *GeminiEmbedderConfig `yaml:"gemini,omitempty"`
}

// ChunkerConfig configures the token budgets for page chunking.
type ChunkerConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	MinTokens     int `yaml:"min_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// OpenSearchConfig contains connection and HNSW settings for the index.
type OpenSearchConfig struct {
	URL            string `yaml:"url"`
	Index          string `yaml:"index"`
	Username       string `yaml:"username"`
	PasswordEnv    string `yaml:"password_env"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
	Engine         string `yaml:"engine"`
	EFSearch       int    `yaml:"ef_search"`
	EFConstruction int    `yaml:"ef_construction"`
	M              int    `yaml:"m"`
}

// IndexConfig selects and configures the vector index implementation.
type IndexConfig struct {
	Type            string            `yaml:"type"` // opensearch or memory
	UpsertShardSize int               `yaml:"upsert_shard_size"`
	UpsertWorkers   int               `yaml:"upsert_workers"`
	OpenSearch      *OpenSearchConfig `yaml:"opensearch,omitempty"`
}

// RetrieverConfig tunes query-time retrieval.
type RetrieverConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// GeneratorConfig configures the primary/fallback generation models.
type GeneratorConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	PrimaryModel  string `yaml:"primary_model"`
	FallbackModel string `yaml:"fallback_model"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
}

// MetastoreConfig points at the ingestion bookkeeping database. An empty
// path disables event logging.
type MetastoreConfig struct {
	Path string `yaml:"path"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Index     IndexConfig     `yaml:"index"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Generator GeneratorConfig `yaml:"generator"`
	Metastore MetastoreConfig `yaml:"metastore"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/docrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Embedder:  EmbedderConfig{Type: "local", Dimensions: 768, BatchSize: 128, Workers: 4},
		Chunker:   ChunkerConfig{MaxTokens: 600, MinTokens: 120, OverlapTokens: 60},
		Index:     IndexConfig{Type: "memory"},
		Retriever: RetrieverConfig{TopK: 6},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Dimensions == 0 {
		cfg.Embedder.Dimensions = 768
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 128
	}
	if cfg.Chunker.MaxTokens == 0 {
		cfg.Chunker.MaxTokens = 600
	}
	if cfg.Chunker.MinTokens == 0 {
		cfg.Chunker.MinTokens = 120
	}
	if cfg.Chunker.OverlapTokens == 0 {
		cfg.Chunker.OverlapTokens = 60
	}
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 6
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Gemini != nil {
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Gemini.Model == "" {
			cfg.Embedder.Gemini.Model = "text-embedding-004"
		}
		if cfg.Embedder.Gemini.TimeoutSecs == 0 {
			cfg.Embedder.Gemini.TimeoutSecs = 30
		}
	}
	if cfg.Index.Type == "opensearch" && cfg.Index.OpenSearch != nil {
		if cfg.Index.OpenSearch.URL == "" {
			cfg.Index.OpenSearch.URL = "http://localhost:9200"
		}
		if cfg.Index.OpenSearch.TimeoutSecs == 0 {
			cfg.Index.OpenSearch.TimeoutSecs = 60
		}
	}
	if cfg.Generator.APIKeyEnv == "" {
		cfg.Generator.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}
}
