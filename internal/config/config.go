// Package config loads pipeline configuration from <homeDir>/config.yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/thicketlab/thicket/internal/otel"
)

// QueueConfig holds tunables for the work queue and its consumers.
type QueueConfig struct {
	// PollIntervalSeconds is the idle backoff between empty polls.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" env:"THICKET_POLL_INTERVAL_SECONDS"`
	// BatchSize is the maximum items an agent claims per poll.
	BatchSize int `yaml:"batch_size" env:"THICKET_BATCH_SIZE"`
	// MaxAttempts is the retry ceiling; items at or above it stay failed.
	MaxAttempts int `yaml:"max_attempts" env:"THICKET_MAX_ATTEMPTS"`
	// StaleAfterSeconds is how long an item may sit in processing before
	// the maintenance sweep requeues it (crash recovery).
	StaleAfterSeconds int `yaml:"stale_after_seconds" env:"THICKET_STALE_AFTER_SECONDS"`
	// CleanupAfterHours controls deletion of old completed items.
	CleanupAfterHours int `yaml:"cleanup_after_hours" env:"THICKET_CLEANUP_AFTER_HOURS"`
}

// GraphConfig holds similarity and hybrid-ranking tunables.
type GraphConfig struct {
	// SimilarityThreshold gates agent.found_similarity emission.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"THICKET_SIMILARITY_THRESHOLD"`
	// ReconnectionThreshold gates reconnection suggestions for orphaned ideas.
	ReconnectionThreshold float64 `yaml:"reconnection_threshold"`
	// MinEdgeScore is the floor for materializing relationship rows as edges.
	MinEdgeScore float64 `yaml:"min_edge_score" env:"THICKET_MIN_EDGE_SCORE"`
	// MaxSimilar caps matches per similarity query.
	MaxSimilar int `yaml:"max_similar"`
	// MaxSuggestions caps reconnection suggestions per orphaned idea.
	MaxSuggestions int `yaml:"max_suggestions"`
	// VectorWeight and GraphWeight blend hybrid search scores.
	VectorWeight float64 `yaml:"vector_weight" env:"THICKET_VECTOR_WEIGHT"`
	GraphWeight  float64 `yaml:"graph_weight" env:"THICKET_GRAPH_WEIGHT"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "local" (deterministic, for tests/offline).
	Provider string `yaml:"provider" env:"THICKET_EMBEDDING_PROVIDER"`
	Model    string `yaml:"model" env:"THICKET_EMBEDDING_MODEL"`
	// Dimension of stored vectors. All providers must emit this size.
	Dimension int    `yaml:"dimension" env:"THICKET_EMBEDDING_DIMENSION"`
	APIKey    string `yaml:"api_key" env:"OPENAI_API_KEY"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path" env:"THICKET_DB_PATH"`
	LogLevel string `yaml:"log_level" env:"THICKET_LOG_LEVEL"`
	Quiet    bool   `yaml:"quiet" env:"THICKET_QUIET"`

	// MaintenanceCron is a 5-field cron expression driving the graph
	// batch rebuild and queue maintenance sweeps.
	MaintenanceCron string `yaml:"maintenance_cron" env:"THICKET_MAINTENANCE_CRON"`

	Queue     QueueConfig     `yaml:"queue"`
	Graph     GraphConfig     `yaml:"graph"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Otel      otel.Config     `yaml:"otel"`
}

// DefaultHomeDir returns ~/.thicket, falling back to the current directory.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".thicket")
}

// Path returns the config file location under the given home dir.
func Path(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from homeDir (missing file is fine), applies
// environment overrides, then fills defaults.
func Load(homeDir string) (*Config, error) {
	cfg := &Config{HomeDir: homeDir}

	data, err := os.ReadFile(Path(homeDir))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.HomeDir, "thicket.db")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaintenanceCron == "" {
		c.MaintenanceCron = "*/5 * * * *"
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		c.Queue.PollIntervalSeconds = 5
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 10
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.StaleAfterSeconds <= 0 {
		c.Queue.StaleAfterSeconds = 300
	}
	if c.Queue.CleanupAfterHours <= 0 {
		c.Queue.CleanupAfterHours = 24
	}
	if c.Graph.SimilarityThreshold <= 0 {
		c.Graph.SimilarityThreshold = 0.7
	}
	if c.Graph.ReconnectionThreshold <= 0 {
		c.Graph.ReconnectionThreshold = 0.5
	}
	if c.Graph.MinEdgeScore <= 0 {
		c.Graph.MinEdgeScore = 0.6
	}
	if c.Graph.MaxSimilar <= 0 {
		c.Graph.MaxSimilar = 5
	}
	if c.Graph.MaxSuggestions <= 0 {
		c.Graph.MaxSuggestions = 3
	}
	if c.Graph.VectorWeight <= 0 {
		c.Graph.VectorWeight = 0.7
	}
	if c.Graph.GraphWeight <= 0 {
		c.Graph.GraphWeight = 0.3
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = 768
	}
}

func (c *Config) validate() error {
	if c.Graph.VectorWeight < 0 || c.Graph.GraphWeight < 0 {
		return fmt.Errorf("hybrid weights must be non-negative")
	}
	switch c.Embedding.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("unknown embedding provider %q (want openai or local)", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding provider openai requires an API key")
	}
	return nil
}
