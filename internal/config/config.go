// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (DOCCHAT_ prefix)
//  2. Config file (~/.docchat/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Validation uses sentinel errors so callers can check categories with
// errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidDataDir indicates the persistence directory is invalid.
	ErrInvalidDataDir = errors.New("invalid data directory")

	// ErrInvalidCollection indicates the knowledge-base name is invalid.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidChunking indicates chunk size/overlap are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTopK indicates the retrieval depth is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidContextSize indicates max_context_chars is out of range.
	ErrInvalidContextSize = errors.New("invalid max context size")

	// ErrInvalidHistorySize indicates max_history_turns is out of range.
	ErrInvalidHistorySize = errors.New("invalid max history turns")

	// ErrInvalidConcurrency indicates embed_concurrency is out of range.
	ErrInvalidConcurrency = errors.New("invalid embed concurrency")

	// ErrInvalidTimeout indicates request_timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid request timeout")
)

// Defaults mirror the chunking and retrieval parameters the knowledge base
// was originally tuned with; changing chunk parameters requires re-indexing.
const (
	DefaultChunkSize       = 500
	DefaultChunkOverlap    = 50
	DefaultTopK            = 3
	DefaultMaxContextChars = 6000
	DefaultMaxHistoryTurns = 20
	DefaultCollection      = "company_docs"
)

// Config stores application configuration.
type Config struct {
	// Ollama endpoint serving both models.
	OllamaHost string `mapstructure:"ollama_host"`

	// Model identifiers.
	ModelName     string `mapstructure:"model_name"`     // generation model (e.g. "llama3.1")
	EmbedderModel string `mapstructure:"embedder_model"` // embedding model (e.g. "nomic-embed-text")

	// Knowledge-base persistence.
	DataDir    string `mapstructure:"data_dir"`   // directory holding index databases
	Collection string `mapstructure:"collection"` // knowledge-base name (one SQLite file per collection)

	// Chunking.
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Retrieval and prompting.
	TopK            int `mapstructure:"top_k"`
	MaxContextChars int `mapstructure:"max_context_chars"`
	MaxHistoryTurns int `mapstructure:"max_history_turns"`

	// External service behavior.
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"`
	EmbedRateLimit   float64       `mapstructure:"embed_rate_limit"` // embedding calls per second, 0 = unlimited

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	v.SetEnvPrefix("DOCCHAT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers all default values on the given viper instance.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("model_name", "llama3.1")
	v.SetDefault("embedder_model", "nomic-embed-text")

	v.SetDefault("data_dir", filepath.Join(configDir, "data"))
	v.SetDefault("collection", DefaultCollection)

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("max_context_chars", DefaultMaxContextChars)
	v.SetDefault("max_history_turns", DefaultMaxHistoryTurns)

	v.SetDefault("request_timeout", 2*time.Minute)
	v.SetDefault("embed_concurrency", 4)
	v.SetDefault("embed_rate_limit", 0.0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// IndexPath returns the SQLite database path for the configured collection.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, c.Collection+".db")
}

// Level maps the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
