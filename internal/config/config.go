// Package config loads engine configuration from a YAML file, a .env file
// and MISCONCEPT_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abhisek/misconcept/internal/cache"
	"github.com/abhisek/misconcept/internal/cluster"
	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/difficulty"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/irt"
	"github.com/abhisek/misconcept/internal/logging"
)

// Config holds all configuration for the engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        logging.Config   `yaml:"log"`
	Embedding  embedding.Config `yaml:"embedding"`
	Cache      cache.Config     `yaml:"cache"`
	Cluster    cluster.Config   `yaml:"cluster"`
	Classifier ClassifierConfig `yaml:"classifier"`
	IRT        irt.Config       `yaml:"irt"`
	Difficulty DifficultyConfig `yaml:"difficulty"`
	Guidance   GuidanceConfig   `yaml:"guidance"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DatabaseConfig locates the artifact store. An empty path resolves to
// the XDG data directory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// Persist controls whether new taxonomy generations are saved.
	Persist bool `yaml:"persist"`
}

// ClassifierConfig tunes misconception classification.
type ClassifierConfig struct {
	// MaxDistance, when positive, labels responses whose nearest centroid
	// is further away as unknown.
	MaxDistance float64 `yaml:"max_distance"`
}

// DifficultyConfig defines the difficulty buckets.
type DifficultyConfig struct {
	Thresholds []float64 `yaml:"thresholds"`
	Labels     []string  `yaml:"labels"`
}

// GuidanceConfig controls improvement tips.
type GuidanceConfig struct {
	// LLM enables model-written suggestions when a provider is configured.
	LLM         bool    `yaml:"llm"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	guide := diagnosis.DefaultGuideConfig()
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     60 * time.Second,
			RequestTimeout:   45 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxBodyBytes:     1 << 20,
		},
		Database:  DatabaseConfig{Persist: true},
		Log:       logging.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Cache: cache.Config{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: cache.RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "misconcept:emb:",
			},
		},
		Cluster: cluster.DefaultConfig(),
		IRT:     irt.DefaultConfig(),
		Difficulty: DifficultyConfig{
			Thresholds: []float64{difficulty.EasyBelow, difficulty.MediumBelow},
			Labels:     []string{string(difficulty.Easy), string(difficulty.Medium), string(difficulty.Hard)},
		},
		Guidance: GuidanceConfig{
			LLM:         true,
			MaxTokens:   guide.MaxTokens,
			Temperature: guide.Temperature,
		},
	}
}

// Load reads configuration from a YAML file (optional) and applies
// environment overrides. A .env file in the working directory is loaded
// first; variables already set in the environment win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Embedding.Provider {
	case "", "hash", "openai":
	default:
		return fmt.Errorf("invalid embedding provider: %s", c.Embedding.Provider)
	}
	switch c.Cache.Driver {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Cluster.K < 1 {
		return fmt.Errorf("cluster.k must be at least 1, got %d", c.Cluster.K)
	}
	if c.Classifier.MaxDistance < 0 || c.Classifier.MaxDistance > 2 {
		return fmt.Errorf("classifier.max_distance must be in [0, 2], got %g", c.Classifier.MaxDistance)
	}
	if err := c.IRT.Validate(); err != nil {
		return fmt.Errorf("irt: %w", err)
	}
	if _, err := c.Bucketizer(); err != nil {
		return fmt.Errorf("difficulty: %w", err)
	}
	return nil
}

// Bucketizer builds the configured difficulty bucketizer.
func (c *Config) Bucketizer() (*difficulty.Bucketizer, error) {
	labels := make([]difficulty.Bucket, len(c.Difficulty.Labels))
	for i, l := range c.Difficulty.Labels {
		labels[i] = difficulty.Bucket(l)
	}
	return difficulty.NewBucketizer(c.Difficulty.Thresholds, labels)
}

// Guide returns the guidance generation settings.
func (c *Config) Guide() diagnosis.GuideConfig {
	return diagnosis.GuideConfig{MaxTokens: c.Guidance.MaxTokens, Temperature: c.Guidance.Temperature}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var err error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}

	str("MISCONCEPT_ADDR", &cfg.Server.Addr)
	str("MISCONCEPT_DB", &cfg.Database.Path)
	boolean("MISCONCEPT_PERSIST", &cfg.Database.Persist)
	str("MISCONCEPT_LOG_LEVEL", &cfg.Log.Level)
	str("MISCONCEPT_LOG_FORMAT", &cfg.Log.Format)

	str("MISCONCEPT_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("MISCONCEPT_EMBEDDING_MODEL", &cfg.Embedding.Model)
	num("MISCONCEPT_EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)
	str("MISCONCEPT_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	boolean("MISCONCEPT_DISABLE_GATE", &cfg.Embedding.DisableGate)
	str("OPENAI_API_KEY", &cfg.Embedding.APIKey)
	str("MISCONCEPT_OPENAI_API_KEY", &cfg.Embedding.APIKey)

	str("MISCONCEPT_CACHE_DRIVER", &cfg.Cache.Driver)
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	str("MISCONCEPT_REDIS_PASSWORD", &cfg.Cache.Redis.Password)

	num("MISCONCEPT_CLUSTER_K", &cfg.Cluster.K)
	if v := os.Getenv("MISCONCEPT_SEED"); v != "" && err == nil {
		seed, perr := strconv.ParseUint(v, 10, 64)
		if perr != nil {
			err = fmt.Errorf("MISCONCEPT_SEED: %w", perr)
		}
		cfg.Cluster.Seed = seed
	}
	num("MISCONCEPT_IRT_WORKERS", &cfg.IRT.Workers)
	boolean("MISCONCEPT_GUIDANCE_LLM", &cfg.Guidance.LLM)

	return err
}
