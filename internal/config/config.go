// Package config loads and validates the engine configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reqsift/reqsift/internal/embed"
	rserrors "github.com/reqsift/reqsift/internal/errors"
	"github.com/reqsift/reqsift/internal/logging"
	"github.com/reqsift/reqsift/internal/search"
	"github.com/reqsift/reqsift/internal/store"
)

// DefaultConfigName is the config file looked up in the data
// directory.
const DefaultConfigName = "reqsift.yaml"

// Config is the complete engine configuration.
//
// Precedence: built-in defaults, then the YAML file, then REQSIFT_*
// environment variables.
type Config struct {
	// DataDir holds the state database, the embedded vector index,
	// and log files.
	DataDir string `yaml:"data_dir"`

	Lexical    LexicalConfig    `yaml:"lexical"`
	Vector     VectorConfig     `yaml:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     search.Config    `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LexicalConfig tunes BM25 scoring.
type LexicalConfig struct {
	K1             float64 `yaml:"k1"`
	B              float64 `yaml:"b"`
	MinTokenLength int     `yaml:"min_token_length"`
}

// VectorConfig selects and tunes the vector backend.
type VectorConfig struct {
	// Backend is "hnsw" (embedded, default) or "qdrant" (networked).
	Backend string `yaml:"backend"`

	// HNSW tuning (embedded backend).
	M        int `yaml:"m"`
	EfSearch int `yaml:"ef_search"`

	// Qdrant connection (networked backend).
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" or "static" (offline, hash-based).
	Provider string `yaml:"provider"`

	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	BatchSize   int `yaml:"batch_size"`
	MaxAttempts int `yaml:"max_attempts"`
	CacheSize   int `yaml:"cache_size"`
}

// LoggingConfig mirrors logging.Config in YAML form.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
	Stderr    bool   `yaml:"stderr"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	lex := store.DefaultLexicalConfig()
	return &Config{
		DataDir: dataDir,
		Lexical: LexicalConfig{
			K1:             lex.K1,
			B:              lex.B,
			MinTokenLength: lex.MinTokenLength,
		},
		Vector: VectorConfig{
			Backend:          "hnsw",
			M:                16,
			EfSearch:         20,
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "reqsift_chunks",
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "openai",
			Model:       embed.DefaultOpenAIModel,
			Dimensions:  embed.DefaultOpenAIDimensions,
			BatchSize:   embed.DefaultBatchSize,
			MaxAttempts: embed.DefaultMaxAttempts,
			CacheSize:   embed.DefaultEmbeddingCacheSize,
		},
		Search: search.DefaultConfig(),
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
	}
}

// Load reads the config file in dataDir if present, applies
// environment overrides, and validates. A missing file is not an
// error; defaults apply.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	path := filepath.Join(dataDir, DefaultConfigName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, rserrors.New(rserrors.ErrCodeConfigNotFound,
			fmt.Sprintf("read config %s", path), err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, rserrors.New(rserrors.ErrCodeConfigInvalid,
				fmt.Sprintf("parse config %s", path), err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from REQSIFT_* environment variables,
// which take precedence over the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("REQSIFT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("REQSIFT_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("REQSIFT_QDRANT_HOST"); v != "" {
		c.Vector.QdrantHost = v
	}
	if v := os.Getenv("REQSIFT_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Vector.QdrantPort = port
		}
	}
	if v := os.Getenv("REQSIFT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("REQSIFT_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("REQSIFT_FUSION_STRATEGY"); v != "" {
		c.Search.Fusion.Strategy = search.Strategy(strings.ToLower(v))
	}
	if v := os.Getenv("REQSIFT_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			c.Search.Fusion.RRFK = k
		}
	}
	if v := os.Getenv("REQSIFT_LEX_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Fusion.LexWeight = w
			c.Search.Fusion.VecWeight = 1 - w
		}
	}
	if v := os.Getenv("REQSIFT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate rejects misconfiguration before any store is opened.
// Configuration errors are fatal, never retried.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return rserrors.New(rserrors.ErrCodeConfigInvalid, "data_dir is required", nil)
	}
	if c.Lexical.K1 <= 0 {
		return rserrors.New(rserrors.ErrCodeConfigInvalid,
			fmt.Sprintf("lexical.k1 must be positive, got %v", c.Lexical.K1), nil)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return rserrors.New(rserrors.ErrCodeConfigInvalid,
			fmt.Sprintf("lexical.b must be in [0,1], got %v", c.Lexical.B), nil)
	}
	switch c.Vector.Backend {
	case "hnsw", "qdrant":
	default:
		return rserrors.New(rserrors.ErrCodeConfigInvalid,
			fmt.Sprintf("vector.backend must be hnsw or qdrant, got %q", c.Vector.Backend), nil)
	}
	switch c.Embeddings.Provider {
	case "openai", "static":
	default:
		return rserrors.New(rserrors.ErrCodeConfigInvalid,
			fmt.Sprintf("embeddings.provider must be openai or static, got %q", c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return rserrors.New(rserrors.ErrCodeConfigInvalid,
			fmt.Sprintf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions), nil)
	}
	if err := c.Search.Fusion.Validate(); err != nil {
		return rserrors.New(rserrors.ErrCodeConfigInvalid, err.Error(), err)
	}
	return nil
}

// LexicalStoreConfig converts to the store layer's config.
func (c *Config) LexicalStoreConfig() store.LexicalConfig {
	lex := store.DefaultLexicalConfig()
	lex.K1 = c.Lexical.K1
	lex.B = c.Lexical.B
	lex.MinTokenLength = c.Lexical.MinTokenLength
	return lex
}

// LoggingSetupConfig converts to the logging layer's config, rooted in
// the data directory.
func (c *Config) LoggingSetupConfig() logging.Config {
	lc := logging.DefaultConfig(filepath.Join(c.DataDir, "logs", "reqsift.log"))
	if c.Logging.Level != "" {
		lc.Level = c.Logging.Level
	}
	if c.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = c.Logging.MaxSizeMB
	}
	if c.Logging.MaxFiles > 0 {
		lc.MaxFiles = c.Logging.MaxFiles
	}
	lc.WriteToStderr = c.Logging.Stderr
	return lc
}

// StatePath is the SQLite state database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// HNSWPath is the embedded vector index snapshot location.
func (c *Config) HNSWPath() string {
	return filepath.Join(c.DataDir, "vectors.hnsw")
}
