// Package config loads the egographica configuration file and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Listen       string             `yaml:"listen"`
	Cache        CacheConfig        `yaml:"cache"`
	Generation   GenerationConfig   `yaml:"generation"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Index        IndexConfig        `yaml:"index"`
	Conversation ConversationConfig `yaml:"conversation"`
	Timeouts     TimeoutConfig      `yaml:"timeouts"`
}

// CacheConfig selects the key-value backend behind the cache tiers.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // redis | memory
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Capacity      int    `yaml:"capacity"`
}

type GenerationConfig struct {
	Provider  string `yaml:"provider"` // anthropic | openai | gemini | ollama | cli | stub
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	BaseURL   string `yaml:"base_url"`
	CLIPath   string `yaml:"cli_path"`
}

type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai | gemini | ollama | stub
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

type IndexConfig struct {
	Backend string `yaml:"backend"` // chromem | sqlite
}

type ConversationConfig struct {
	MaxSteps       int     `yaml:"max_steps"`
	HistoryWindow  int     `yaml:"history_window"`
	ReserveTokens  int     `yaml:"reserve_tokens"`
	MinSearchRunes int     `yaml:"min_search_runes"`
	TopK           int     `yaml:"top_k"`
	MinScore       float32 `yaml:"min_score"`
}

// TimeoutConfig holds the bounded waits. Values parse as Go durations ("10s").
type TimeoutConfig struct {
	Embedding  time.Duration `yaml:"embedding"`
	Similarity time.Duration `yaml:"similarity"`
	Store      time.Duration `yaml:"store"`
	Model      time.Duration `yaml:"model"`
}

// Environment variables that override the file.
const (
	EnvRedisAddr = "EGOGRAPHICA_REDIS_ADDR"
	EnvProvider  = "EGOGRAPHICA_PROVIDER"
	EnvModel     = "EGOGRAPHICA_MODEL"
	EnvDataDir   = "EGOGRAPHICA_DATA_DIR"
	EnvListen    = "EGOGRAPHICA_LISTEN"
	EnvMaxSteps  = "EGOGRAPHICA_MAX_STEPS"
)

// DefaultDir returns ~/.egographica.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".egographica"
	}
	return filepath.Join(home, ".egographica")
}

// DefaultPath returns the configuration file read when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDir(),
		Listen:  ":8080",
		Cache: CacheConfig{
			Backend:   "redis",
			RedisAddr: "localhost:6379",
			Capacity:  10000,
		},
		Generation: GenerationConfig{
			Provider:  "anthropic",
			MaxTokens: 350,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
		},
		Index: IndexConfig{
			Backend: "chromem",
		},
		Conversation: ConversationConfig{
			MaxSteps:       5,
			HistoryWindow:  20,
			ReserveTokens:  4000,
			MinSearchRunes: 8,
			TopK:           5,
			MinScore:       0.6,
		},
		Timeouts: TimeoutConfig{
			Embedding:  10 * time.Second,
			Similarity: 10 * time.Second,
			Store:      5 * time.Second,
			Model:      120 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Backend = "redis"
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Generation.Provider = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvMaxSteps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxSteps, err)
		}
		c.Conversation.MaxSteps = n
	}
	return nil
}

var (
	cacheBackends  = map[string]bool{"redis": true, "memory": true}
	indexBackends  = map[string]bool{"chromem": true, "sqlite": true}
	genProviders   = map[string]bool{"anthropic": true, "openai": true, "gemini": true, "ollama": true, "cli": true, "stub": true}
	embedProviders = map[string]bool{"openai": true, "gemini": true, "ollama": true, "stub": true}
)

// Validate rejects unknown backends and non-positive bounds.
func (c *Config) Validate() error {
	var errs []error
	if !cacheBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Errorf("cache.backend: unknown %q", c.Cache.Backend))
	}
	if !indexBackends[c.Index.Backend] {
		errs = append(errs, fmt.Errorf("index.backend: unknown %q", c.Index.Backend))
	}
	if !genProviders[c.Generation.Provider] {
		errs = append(errs, fmt.Errorf("generation.provider: unknown %q", c.Generation.Provider))
	}
	if !embedProviders[c.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("embedding.provider: unknown %q", c.Embedding.Provider))
	}
	if c.Conversation.MaxSteps < 1 {
		errs = append(errs, errors.New("conversation.max_steps must be at least 1"))
	}
	if c.Generation.MaxTokens < 1 {
		errs = append(errs, errors.New("generation.max_tokens must be positive"))
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "egographica.db")
}

// BlobDir is the root of the tenant blob tree.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// IndexDir is where the chromem index persists.
func (c *Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}
